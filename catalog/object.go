// Package catalog lists the destinations a driver can pick: the fixed shared
// places plus the active orders of the Remonline CRM.
package catalog

import (
	dbt "drivelog/db/db"
)

const (
	SourceStatic    = "static"
	SourceRemonline = "remonline"
)

// Object is one selectable destination.
type Object struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IDLabel    string `json:"id_label,omitempty"`
	StatusName string `json:"status_name,omitempty"`
	StatusID   int64  `json:"status_id,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	Source     string `json:"source"`
}

func (o Object) IsStatic() bool {
	return o.Source == SourceStatic
}

// Place is the shared place a static object stands for.
func (o Object) Place() dbt.Place {
	if !o.IsStatic() {
		return dbt.PlaceNone
	}
	return dbt.PlaceOf(o.Name)
}

// ExternalRef is what a project created from o remembers about it.
func (o Object) ExternalRef() *dbt.ExternalRef {
	if o.IsStatic() {
		return nil
	}
	return &dbt.ExternalRef{Source: o.Source, ID: o.ID, IDLabel: o.IDLabel}
}

var staticObjects = []Object{
	{ID: "shop", Name: dbt.LocationShop, Source: SourceStatic},
	{ID: "warehouse", Name: dbt.LocationWarehouse, Source: SourceStatic},
	{ID: "home", Name: dbt.LocationHome, Source: SourceStatic},
	{ID: "fuel_station", Name: dbt.LocationFuelStation, Source: SourceStatic},
}

// Static returns the shared places in display order.
func Static() []Object {
	out := make([]Object, len(staticObjects))
	copy(out, staticObjects)
	return out
}

// Metadata is the catalog information attached to a project in exports.
type Metadata struct {
	Source     string `json:"source"`
	CRMID      string `json:"crm_id,omitempty"`
	IDLabel    string `json:"id_label,omitempty"`
	StatusName string `json:"status_name,omitempty"`
	StatusID   int64  `json:"status_id,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

func metadataOf(o Object) Metadata {
	return Metadata{
		Source:     o.Source,
		CRMID:      o.ID,
		IDLabel:    o.IDLabel,
		StatusName: o.StatusName,
		StatusID:   o.StatusID,
		CreatedAt:  o.CreatedAt,
	}
}
