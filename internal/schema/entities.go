package schema

import (
	"agrireg/internal/filter"
	"agrireg/internal/resolve"
)

// Scope kinds and the collections their targets live in.
const (
	ScopeCompany = "company"
	ScopeFarm    = "farm"
)

var ScopeCollections = map[string]string{
	ScopeCompany: "companies",
	ScopeFarm:    "farms",
}

var Company = &Entity{
	Name:       "company",
	Collection: "companies",
	Columns: []Column{
		{Name: "name", Required: true},
		{Name: "registration_no"},
		{Name: "contact_email"},
	},
	Filters: filter.Schema{
		"name":           filter.Direct("name", filter.MatchContains),
		"code":           filter.Direct("company_code", filter.MatchStartsWith),
		"registrationNo": filter.Direct("registration_no", filter.MatchEquals),
	},
	Sequence: &Sequence{Name: "Company Profile", Template: "CMP-0000", Column: "company_code"},
	Owner:    Owner{Column: "uuid"},
}

var Farm = &Entity{
	Name:       "farm",
	Collection: "farms",
	Columns: []Column{
		{Name: "name", Required: true},
		{Name: "company_uuid", Required: true, Ref: "companies"},
		{Name: "district"},
		{Name: "crop_type"},
	},
	Filters: filter.Schema{
		"name":        filter.Direct("name", filter.MatchContains),
		"farmCode":    filter.Direct("farm_code", filter.MatchStartsWith),
		"district":    filter.Direct("district", filter.MatchContains),
		"cropType":    filter.Direct("crop_type", filter.MatchEquals),
		"companyName": filter.Via("companies", "name", filter.MatchContains, "company_uuid"),
	},
	References: []resolve.Reference{
		{Field: "company_uuid", Collection: "companies", Copy: []resolve.Projection{
			{From: "name", To: "companyName"},
			{From: "company_code", To: "companyCode"},
		}},
	},
	Sequence: &Sequence{Name: "Farm Profile", Template: "FARM-00000", Column: "farm_code"},
	Owner:    Owner{Column: "company_uuid"},
	Scopes:   map[string]string{ScopeCompany: "company_uuid"},
}

var FarmArea = &Entity{
	Name:       "farm_area",
	Collection: "farm_areas",
	Columns: []Column{
		{Name: "name", Required: true},
		{Name: "farm_uuid", Required: true, Ref: "farms"},
		{Name: "company_uuid", Required: true, Ref: "companies"},
		{Name: "area_hectares"},
	},
	Filters: filter.Schema{
		"name":        filter.Direct("name", filter.MatchContains),
		"farmName":    filter.Via("farms", "name", filter.MatchContains, "farm_uuid"),
		"companyName": filter.Via("companies", "name", filter.MatchContains, "company_uuid"),
	},
	References: []resolve.Reference{
		{Field: "farm_uuid", Collection: "farms", Copy: []resolve.Projection{
			{From: "name", To: "farmName"},
			{From: "farm_code", To: "farmCode"},
		}},
		{Field: "company_uuid", Collection: "companies", Copy: []resolve.Projection{
			{From: "name", To: "companyName"},
		}},
	},
	Owner:  Owner{Column: "company_uuid"},
	Scopes: map[string]string{ScopeCompany: "company_uuid", ScopeFarm: "farm_uuid"},
}

var Inspection = &Entity{
	Name:       "inspection",
	Collection: "biosecurity_inspections",
	Columns: []Column{
		{Name: "farm_uuid", Required: true, Ref: "farms"},
		{Name: "commodity", Required: true},
		{Name: "inspected_on"},
		{Name: "result"},
	},
	Filters: filter.Schema{
		"commodity":      filter.Direct("commodity", filter.MatchContains),
		"result":         filter.Direct("result", filter.MatchEquals),
		"inspectionCode": filter.Direct("inspection_code", filter.MatchStartsWith),
		"farmName":       filter.Via("farms", "name", filter.MatchContains, "farm_uuid"),
		"farmCode":       filter.Via("farms", "farm_code", filter.MatchStartsWith, "farm_uuid"),
	},
	References: []resolve.Reference{
		{Field: "farm_uuid", Collection: "farms", Copy: []resolve.Projection{
			{From: "name", To: "farmName"},
			{From: "farm_code", To: "farmCode"},
		}},
	},
	Sequence: &Sequence{Name: "Biosecurity Inspection", Template: "BIO-0000", Column: "inspection_code"},
	Owner:    Owner{Column: "farm_uuid", Via: "farms", ViaColumn: "company_uuid"},
	Scopes:   map[string]string{ScopeFarm: "farm_uuid"},
}

// Default returns the catalog of all registry entities.
func Default() Catalog {
	return NewCatalog(Company, Farm, FarmArea, Inspection)
}
