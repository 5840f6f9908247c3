package storage

import (
	"context"
	"fmt"

	"github.com/raphi011/proberun/internal/model"
)

type networkRow struct {
	ID          int64  `db:"id"`
	NetworkName string `db:"network_name"`
	ASN         string `db:"asn"`
	CountryCode string `db:"country_code"`
	NetworkType string `db:"network_type"`
}

// SaveNetwork stores the network unless an equal one exists and returns
// the id of the stored network.
func (s *Storage) SaveNetwork(ctx context.Context, n model.Network) (model.NetworkID, error) {
	db := s.getDB(ctx)

	args := map[string]any{
		"network_name": n.NetworkName,
		"asn":          n.ASN,
		"country_code": n.CountryCode,
		"network_type": string(n.NetworkType),
	}

	_, err := db.NamedExecContext(ctx, `INSERT INTO network (network_name, asn, country_code, network_type)
	VALUES (:network_name, :asn, :country_code, :network_type)
	ON CONFLICT (network_name, asn, country_code, network_type) DO NOTHING`, args)
	if err != nil {
		return 0, fmt.Errorf("inserting network: %w", err)
	}

	var id int64
	err = db.GetContext(ctx, &id, `SELECT id FROM network
	WHERE network_name=? AND asn=? AND country_code=? AND network_type=?`,
		n.NetworkName, n.ASN, n.CountryCode, string(n.NetworkType))
	if err != nil {
		return 0, fmt.Errorf("loading network id: %w", err)
	}

	return model.NetworkID(id), nil
}

func (s *Storage) LoadNetwork(ctx context.Context, id model.NetworkID) (model.Network, error) {
	db := s.getDB(ctx)

	var row networkRow
	if err := db.GetContext(ctx, &row, `SELECT id, network_name, asn, country_code, network_type FROM network WHERE id=?`, int64(id)); err != nil {
		return model.Network{}, notFound(err)
	}

	return model.Network{
		ID:          model.NetworkID(row.ID),
		NetworkName: row.NetworkName,
		ASN:         row.ASN,
		CountryCode: row.CountryCode,
		NetworkType: model.NetworkType(row.NetworkType),
	}, nil
}
