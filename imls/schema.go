package imls

import "github.com/libsurvey/plsk"

// Canonical schemas for the survey's three tables. The alias lists absorb
// the column renames the publisher has shipped over the years; order within
// a list is priority, newest name first.
//
// The survey's sentinel codes: -1 not reported, -3 closed, -9 suppressed.

// LibrarySchema describes the administrative entity file (one row per
// library system). Natural key is the FSCS id.
func LibrarySchema() plsk.Schema {
	return plsk.Schema{
		Kind: plsk.KindLibrary,
		Key:  []string{"fscs_id"},
		Fields: []plsk.Field{
			{Name: "fscs_id", Aliases: []string{"FSCSKEY", "FSCS_ID", "LIBID"}, Required: true},
			{Name: "name", Aliases: []string{"LIBNAME", "LIB_NAME"}, Required: true},
			{Name: "address", Aliases: []string{"ADDRESS", "ADDRES"}},
			{Name: "city", Aliases: []string{"CITY"}},
			{Name: "zip", Aliases: []string{"ZIP", "ZIPCODE"}},
			{Name: "state", Aliases: []string{"STABR", "STATE"}, Required: true},
			{Name: "county", Aliases: []string{"CNTY", "COUNTY"}},
			{Name: "phone", Aliases: []string{"PHONE"}},
			{Name: "legal_basis", Aliases: []string{"C_LEGBAS", "LEGBAS"}},
			{Name: "admin_structure", Aliases: []string{"C_ADMIN", "ADMIN"}},
			{Name: "meets_fscs_definition", Aliases: []string{"C_FSCS", "FSCS"}, Coerce: plsk.BoolCoercer{}},
			{Name: "service_area_population", Aliases: []string{"POPU_LSA", "POPU"}, Coerce: plsk.IntCoercer{}},
			{Name: "unduplicated_population", Aliases: []string{"POPU_UND"}, Coerce: plsk.IntCoercer{}},
			{Name: "central_libraries", Aliases: []string{"CENTLIB"}, Coerce: plsk.IntCoercer{}},
			{Name: "branch_libraries", Aliases: []string{"BRANLIB"}, Coerce: plsk.IntCoercer{}},
			{Name: "bookmobiles", Aliases: []string{"BKMOB"}, Coerce: plsk.IntCoercer{}},
			{Name: "mls_librarians", Aliases: []string{"MASTER"}, Coerce: plsk.FloatCoercer{}},
			{Name: "librarians", Aliases: []string{"LIBRARIA"}, Coerce: plsk.FloatCoercer{}},
			{Name: "total_staff", Aliases: []string{"TOTSTAFF"}, Coerce: plsk.FloatCoercer{}},
			{Name: "total_income", Aliases: []string{"TOTINCM", "TOTINC"}, Coerce: plsk.IntCoercer{}},
			{Name: "total_operating_expenditures", Aliases: []string{"TOTOPEXP", "TOTEXP"}, Coerce: plsk.IntCoercer{}},
			{Name: "visits", Aliases: []string{"VISITS"}, Coerce: plsk.IntCoercer{}},
			{Name: "reference_transactions", Aliases: []string{"REFERENC", "REFERENCE"}, Coerce: plsk.IntCoercer{}},
			{Name: "total_circulation", Aliases: []string{"TOTCIR", "TOTCIRC"}, Coerce: plsk.IntCoercer{}},
			{Name: "total_programs", Aliases: []string{"TOTPRO"}, Coerce: plsk.IntCoercer{}},
			{Name: "internet_terminals", Aliases: []string{"GPTERMS", "GPTERMINL"}, Coerce: plsk.IntCoercer{}},
			{Name: "wifi_sessions", Aliases: []string{"WIFISESS"}, Coerce: plsk.IntCoercer{}},
		},
	}
}

// LibraryClamps are the documented code domains for the library file.
func LibraryClamps() []plsk.ClampRule {
	return []plsk.ClampRule{
		{Field: "service_area_population", Min: 0, Max: 50_000_000, Sentinel: -1},
		{Field: "central_libraries", Min: 0, Max: 100, Sentinel: -1},
		{Field: "branch_libraries", Min: 0, Max: 1000, Sentinel: -1},
		{Field: "bookmobiles", Min: 0, Max: 200, Sentinel: -1},
	}
}

// OutletSchema describes the outlet file (one row per physical outlet).
// Natural key is FSCS id plus outlet sequence number. Coordinates, where
// present, derive a geohash for spatial grouping on the read side.
func OutletSchema() plsk.Schema {
	return plsk.Schema{
		Kind: plsk.KindOutlet,
		Key:  []string{"fscs_id", "outlet_seq"},
		Fields: []plsk.Field{
			{Name: "fscs_id", Aliases: []string{"FSCSKEY", "FSCS_ID", "LIBID"}, Required: true},
			{Name: "outlet_seq", Aliases: []string{"FSCS_SEQ", "SEQ"}, Required: true},
			{Name: "name", Aliases: []string{"LIBNAME", "OUTLETNM", "LIB_NAME"}, Required: true},
			{Name: "outlet_type", Aliases: []string{"C_OUT_TY", "OUT_TYPE"}},
			{Name: "address", Aliases: []string{"ADDRESS", "ADDRES"}},
			{Name: "city", Aliases: []string{"CITY"}},
			{Name: "zip", Aliases: []string{"ZIP", "ZIPCODE"}},
			{Name: "state", Aliases: []string{"STABR", "STATE"}, Required: true},
			{Name: "county", Aliases: []string{"CNTY", "COUNTY"}},
			{Name: "square_feet", Aliases: []string{"SQ_FEET", "SQFEET"}, Coerce: plsk.IntCoercer{}},
			{Name: "hours_open", Aliases: []string{"HOURS"}, Coerce: plsk.IntCoercer{}},
			{Name: "weeks_open", Aliases: []string{"WKS_OPEN", "WEEKS"}, Coerce: plsk.IntCoercer{}},
			{Name: "latitude", Aliases: []string{"LATITUDE", "LAT"}, Coerce: plsk.FloatCoercer{}},
			{Name: "longitude", Aliases: []string{"LONGITUD", "LONGITUDE", "LON"}, Coerce: plsk.FloatCoercer{}},
		},
		Derived: []plsk.DerivedField{
			plsk.GeohashField("location_geohash", "latitude", "longitude", 9),
		},
	}
}

// OutletClamps are the documented code domains for the outlet file.
func OutletClamps() []plsk.ClampRule {
	return []plsk.ClampRule{
		{Field: "square_feet", Min: 0, Max: 5_000_000, Sentinel: -1},
		{Field: "hours_open", Min: 0, Max: 8784, Sentinel: -1},
		{Field: "weeks_open", Min: 0, Max: 52, Sentinel: -1},
	}
}

// StateSummarySchema describes the per-state demographic summary table.
// Natural key is the state code.
func StateSummarySchema() plsk.Schema {
	return plsk.Schema{
		Kind: plsk.KindStateSummary,
		Key:  []string{"state"},
		Fields: []plsk.Field{
			{Name: "state", Aliases: []string{"STABR", "STATE"}, Required: true},
			{Name: "population", Aliases: []string{"POPU_ST", "ST_POPU", "POPULATION"}, Coerce: plsk.IntCoercer{}},
			{Name: "libraries", Aliases: []string{"LIBRARIES", "NUMLIB"}, Coerce: plsk.IntCoercer{}},
			{Name: "total_income", Aliases: []string{"TOTINCM", "TOTINC"}, Coerce: plsk.IntCoercer{}},
			{Name: "total_operating_expenditures", Aliases: []string{"TOTOPEXP", "TOTEXP"}, Coerce: plsk.IntCoercer{}},
			{Name: "visits", Aliases: []string{"VISITS"}, Coerce: plsk.IntCoercer{}},
			{Name: "total_circulation", Aliases: []string{"TOTCIR", "TOTCIRC"}, Coerce: plsk.IntCoercer{}},
		},
	}
}

// Schemas returns every canonical schema the publisher's payloads carry.
func Schemas() []plsk.Schema {
	return []plsk.Schema{LibrarySchema(), OutletSchema(), StateSummarySchema()}
}
