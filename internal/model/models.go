// The `model` package holds the types shared between storage, the runner
// and the http layer. Keeping them here avoids cyclic dependencies between
// those packages.
package model

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

type (
	ResultID      int64
	MeasurementID int64
	NetworkID     int64
	URLID         int64
	DescriptorID  string
)

// TaskOrigin tells whether a run was started by the user or by the
// background scheduler.
type TaskOrigin string

const (
	TaskOriginAutoRun TaskOrigin = "autorun"
	TaskOriginOoniRun TaskOrigin = "ooni-run"
)

type NetworkType string

const (
	NetworkTypeVPN        NetworkType = "vpn"
	NetworkTypeWifi       NetworkType = "wifi"
	NetworkTypeMobile     NetworkType = "mobile"
	NetworkTypeNoInternet NetworkType = "no_internet"
	NetworkTypeUnknown    NetworkType = "unknown"
)

// Network is the network a measurement was taken on. Networks are
// deduplicated by value.
type Network struct {
	ID          NetworkID   `json:"id"`
	NetworkName string      `json:"networkName"`
	ASN         string      `json:"asn"`
	CountryCode string      `json:"countryCode"`
	NetworkType NetworkType `json:"networkType"`
}

// IsValid reports whether the geolocation of the network was resolved.
func (n Network) IsValid() bool {
	return n.ASN != "AS0" && !strings.EqualFold(n.CountryCode, "ZZ")
}

// URL is a web target. URLs are unique by their url string.
type URL struct {
	ID           URLID  `json:"id"`
	URL          string `json:"url"`
	CountryCode  string `json:"countryCode"`
	CategoryCode string `json:"categoryCode"`
}

// Result groups the measurements of one descriptor within one run.
type Result struct {
	ID                 ResultID      `json:"id"`
	DescriptorName     string        `json:"descriptorName"`
	DescriptorID       *DescriptorID `json:"descriptorId,omitempty"`
	DescriptorRevision int64         `json:"descriptorRevision,omitempty"`
	StartTime          time.Time     `json:"startTime"`
	IsDone             bool          `json:"isDone"`
	IsViewed           bool          `json:"isViewed"`
	DataUsageUp        int64         `json:"dataUsageUp"`
	DataUsageDown      int64         `json:"dataUsageDown"`
	FailureMessage     string        `json:"failureMessage,omitempty"`
	NetworkID          *NetworkID    `json:"networkId,omitempty"`
	TaskOrigin         TaskOrigin    `json:"taskOrigin"`
}

// AppendFailure adds msg to the failure message, separating multiple
// failures with a blank line.
func (r *Result) AppendFailure(msg string) {
	if r.FailureMessage == "" {
		r.FailureMessage = msg
		return
	}

	r.FailureMessage = r.FailureMessage + "\n\n" + msg
}

// Measurement is a single test execution, optionally for one input.
type Measurement struct {
	ID                   MeasurementID `json:"id"`
	TestName             TestType      `json:"testName"`
	StartTime            time.Time     `json:"startTime"`
	Runtime              float64       `json:"runtime"`
	IsDone               bool          `json:"isDone"`
	IsUploaded           bool          `json:"isUploaded"`
	IsFailed             bool          `json:"isFailed"`
	FailureMessage       string        `json:"failureMessage,omitempty"`
	IsUploadFailed       bool          `json:"isUploadFailed"`
	UploadFailureMessage string        `json:"uploadFailureMessage,omitempty"`
	IsRerun              bool          `json:"isRerun"`
	IsAnomaly            bool          `json:"isAnomaly"`
	ReportID             string        `json:"reportId,omitempty"`
	UID                  string        `json:"uid,omitempty"`
	TestKeys             string        `json:"testKeys,omitempty"`
	RerunNetwork         string        `json:"rerunNetwork,omitempty"`
	URLID                *URLID        `json:"urlId,omitempty"`
	ResultID             *ResultID     `json:"resultId,omitempty"`
}

// ReportFileName is the base name of the raw report written for the
// measurement.
func (m Measurement) ReportFileName() string {
	return strconv.FormatInt(int64(m.ID), 10) + ".json"
}

// MeasurementsFilter selects which measurements an upload pass covers.
type MeasurementsFilter interface {
	isMeasurementsFilter()
}

type AllMeasurements struct{}

type ResultMeasurements struct {
	ResultID ResultID
}

type SingleMeasurement struct {
	MeasurementID MeasurementID
}

func (AllMeasurements) isMeasurementsFilter()    {}
func (ResultMeasurements) isMeasurementsFilter() {}
func (SingleMeasurement) isMeasurementsFilter()  {}

// Source tells where a descriptor comes from: it is either one of the
// built in defaults or an installed descriptor.
type Source interface {
	isSource()
	String() string
}

type DefaultSource struct {
	Name string
}

type InstalledSource struct {
	ID DescriptorID
}

func (DefaultSource) isSource()   {}
func (InstalledSource) isSource() {}

func (s DefaultSource) String() string   { return "default:" + s.Name }
func (s InstalledSource) String() string { return "installed:" + string(s.ID) }

// Descriptor is a named bundle of net tests.
type Descriptor struct {
	Name             string     `json:"name"`
	Source           Source     `json:"-"`
	Revision         int64      `json:"revision,omitempty"`
	Title            string     `json:"title,omitempty"`
	ShortDescription string     `json:"shortDescription,omitempty"`
	ExpirationDate   *time.Time `json:"expirationDate,omitempty"`
	DateInstalled    *time.Time `json:"dateInstalled,omitempty"`
	AutoUpdate       bool       `json:"autoUpdate"`
	NetTests         []NetTest  `json:"netTests"`
	LongRunningTests []NetTest  `json:"longRunningTests,omitempty"`
}

// AllTests returns the regular tests followed by the long running ones.
func (d Descriptor) AllTests() []NetTest {
	tests := make([]NetTest, 0, len(d.NetTests)+len(d.LongRunningTests))
	tests = append(tests, d.NetTests...)
	return append(tests, d.LongRunningTests...)
}

func (d Descriptor) IsExpired(now time.Time) bool {
	return d.ExpirationDate != nil && d.ExpirationDate.Before(now)
}

// InstalledID returns the id of an installed descriptor.
func (d Descriptor) InstalledID() (DescriptorID, bool) {
	if s, ok := d.Source.(InstalledSource); ok {
		return s.ID, true
	}

	return "", false
}

// EstimatedRuntime sums the estimated runtimes of all tests.
func (d Descriptor) EstimatedRuntime(maxRuntime time.Duration) time.Duration {
	total := time.Duration(0)

	for _, t := range d.AllTests() {
		total += t.Runtime(maxRuntime)
	}

	return total
}

// MarshalJSON adds the source of the descriptor in its tagged form.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	type descriptor Descriptor

	return json.Marshal(struct {
		descriptor
		Source sourceJSON `json:"source"`
	}{descriptor(d), toSourceJSON(d.Source)})
}

func (d *Descriptor) UnmarshalJSON(b []byte) error {
	type descriptor Descriptor

	var raw struct {
		descriptor
		Source sourceJSON `json:"source"`
	}

	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*d = Descriptor(raw.descriptor)

	source, err := raw.Source.toSource()
	if err != nil {
		return err
	}

	d.Source = source

	return nil
}

// RunSpecification describes what a single run executes.
type RunSpecification struct {
	Tests      []RunSpecTest `json:"tests"`
	TaskOrigin TaskOrigin    `json:"taskOrigin"`
	IsRerun    bool          `json:"isRerun"`
}

// RunSpecTest selects the tests of a single descriptor.
type RunSpecTest struct {
	Source   Source    `json:"-"`
	NetTests []NetTest `json:"netTests"`
}

func (t RunSpecTest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Source   sourceJSON `json:"source"`
		NetTests []NetTest  `json:"netTests"`
	}{toSourceJSON(t.Source), t.NetTests})
}

func (t *RunSpecTest) UnmarshalJSON(b []byte) error {
	var raw struct {
		Source   sourceJSON `json:"source"`
		NetTests []NetTest  `json:"netTests"`
	}

	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	source, err := raw.Source.toSource()
	if err != nil {
		return err
	}

	if source == nil {
		return errors.New("run specification test without source")
	}

	t.Source = source
	t.NetTests = raw.NetTests

	return nil
}

type sourceJSON struct {
	Default   string       `json:"default,omitempty"`
	Installed DescriptorID `json:"installed,omitempty"`
}

func toSourceJSON(s Source) sourceJSON {
	switch s := s.(type) {
	case DefaultSource:
		return sourceJSON{Default: s.Name}
	case InstalledSource:
		return sourceJSON{Installed: s.ID}
	}

	return sourceJSON{}
}

func (s sourceJSON) toSource() (Source, error) {
	switch {
	case s.Default != "" && s.Installed != "":
		return nil, errors.New("source is both default and installed")
	case s.Default != "":
		return DefaultSource{Name: s.Default}, nil
	case s.Installed != "":
		return InstalledSource{ID: s.Installed}, nil
	}

	return nil, nil
}
