package descriptor

import "github.com/raphi011/proberun/internal/model"

func defaultDescriptor(name, title string, tests []model.TestType, longRunning []model.TestType) model.Descriptor {
	d := model.Descriptor{
		Name:   name,
		Source: model.DefaultSource{Name: name},
		Title:  title,
	}

	for _, t := range tests {
		d.NetTests = append(d.NetTests, model.NetTest{Name: t})
	}

	for _, t := range longRunning {
		d.LongRunningTests = append(d.LongRunningTests, model.NetTest{Name: t})
	}

	return d
}

// Defaults returns the built in descriptors.
func Defaults() []model.Descriptor {
	return []model.Descriptor{
		defaultDescriptor("websites", "Websites",
			[]model.TestType{model.TestTypeWebConnectivity}, nil),
		defaultDescriptor("instant_messaging", "Instant Messaging",
			[]model.TestType{
				model.TestTypeWhatsapp,
				model.TestTypeTelegram,
				model.TestTypeFacebookMessenger,
				model.TestTypeSignal,
			}, nil),
		defaultDescriptor("circumvention", "Circumvention",
			[]model.TestType{model.TestTypePsiphon, model.TestTypeTor}, nil),
		defaultDescriptor("performance", "Performance",
			[]model.TestType{
				model.TestTypeHTTPHeaderFieldManipulation,
				model.TestTypeHTTPInvalidRequestLine,
			},
			[]model.TestType{model.TestTypeNdt, model.TestTypeDash}),
		defaultDescriptor("experimental", "Experimental",
			[]model.TestType{"stunreachability", "dnscheck", "riseupvpn", "echcheck"}, nil),
	}
}
