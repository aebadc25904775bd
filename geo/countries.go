package geo

import (
	"sort"
	"strings"
)

// Country is one row of the canonical country table.
type Country struct {
	Alpha3 string
	Alpha2 string
	// FIPS is the FIPS 10-4 code used by GDELT.
	FIPS  string
	Names []string
}

func c(alpha3, alpha2, fips string, names ...string) Country {
	return Country{Alpha3: alpha3, Alpha2: alpha2, FIPS: fips, Names: names}
}

// countryData holds common, official and frequent alternative names.
var countryData = []Country{
	c("AFG", "AF", "AF", "Afghanistan", "Islamic Republic of Afghanistan"),
	c("ALB", "AL", "AL", "Albania", "Republic of Albania"),
	c("DZA", "DZ", "AG", "Algeria", "People's Democratic Republic of Algeria"),
	c("AND", "AD", "AN", "Andorra", "Principality of Andorra"),
	c("AGO", "AO", "AO", "Angola", "Republic of Angola"),
	c("ATG", "AG", "AC", "Antigua and Barbuda", "Antigua"),
	c("ARG", "AR", "AR", "Argentina", "Argentine Republic"),
	c("ARM", "AM", "AM", "Armenia", "Republic of Armenia"),
	c("AUS", "AU", "AS", "Australia", "Commonwealth of Australia"),
	c("AUT", "AT", "AU", "Austria", "Republic of Austria"),
	c("AZE", "AZ", "AJ", "Azerbaijan", "Republic of Azerbaijan"),
	c("BHS", "BS", "BF", "Bahamas", "Commonwealth of The Bahamas"),
	c("BHR", "BH", "BA", "Bahrain", "Kingdom of Bahrain"),
	c("BGD", "BD", "BG", "Bangladesh", "People's Republic of Bangladesh"),
	c("BRB", "BB", "BB", "Barbados"),
	c("BLR", "BY", "BO", "Belarus", "Republic of Belarus", "Byelorussia"),
	c("BEL", "BE", "BE", "Belgium", "Kingdom of Belgium"),
	c("BLZ", "BZ", "BH", "Belize"),
	c("BEN", "BJ", "BN", "Benin", "Republic of Benin"),
	c("BTN", "BT", "BT", "Bhutan", "Kingdom of Bhutan"),
	c("BOL", "BO", "BL", "Bolivia", "Plurinational State of Bolivia"),
	c("BIH", "BA", "BK", "Bosnia and Herzegovina", "Bosnia-Herzegovina", "Bosnia"),
	c("BWA", "BW", "BC", "Botswana", "Republic of Botswana"),
	c("BRA", "BR", "BR", "Brazil", "Federative Republic of Brazil", "Brasil"),
	c("BRN", "BN", "BX", "Brunei", "Brunei Darussalam"),
	c("BGR", "BG", "BU", "Bulgaria", "Republic of Bulgaria"),
	c("BFA", "BF", "UV", "Burkina Faso"),
	c("BDI", "BI", "BY", "Burundi", "Republic of Burundi"),
	c("CPV", "CV", "CV", "Cabo Verde", "Cape Verde"),
	c("KHM", "KH", "CB", "Cambodia", "Kingdom of Cambodia"),
	c("CMR", "CM", "CM", "Cameroon", "Republic of Cameroon"),
	c("CAN", "CA", "CA", "Canada"),
	c("CAF", "CF", "CT", "Central African Republic"),
	c("TCD", "TD", "CD", "Chad", "Republic of Chad"),
	c("CHL", "CL", "CI", "Chile", "Republic of Chile"),
	c("CHN", "CN", "CH", "China", "People's Republic of China", "Mainland China"),
	c("COL", "CO", "CO", "Colombia", "Republic of Colombia"),
	c("COM", "KM", "CN", "Comoros", "Union of the Comoros"),
	c("COG", "CG", "CF", "Republic of the Congo", "Congo-Brazzaville", "Congo Republic"),
	c("COD", "CD", "CG", "Democratic Republic of the Congo", "DR Congo", "Congo-Kinshasa", "Congo"),
	c("CRI", "CR", "CS", "Costa Rica", "Republic of Costa Rica"),
	c("CIV", "CI", "IV", "Côte d'Ivoire", "Cote d'Ivoire", "Ivory Coast"),
	c("HRV", "HR", "HR", "Croatia", "Republic of Croatia", "Hrvatska"),
	c("CUB", "CU", "CU", "Cuba", "Republic of Cuba"),
	c("CYP", "CY", "CY", "Cyprus", "Republic of Cyprus"),
	c("CZE", "CZ", "EZ", "Czechia", "Czech Republic"),
	c("DNK", "DK", "DA", "Denmark", "Kingdom of Denmark"),
	c("DJI", "DJ", "DJ", "Djibouti", "Republic of Djibouti"),
	c("DMA", "DM", "DO", "Dominica", "Commonwealth of Dominica"),
	c("DOM", "DO", "DR", "Dominican Republic"),
	c("ECU", "EC", "EC", "Ecuador", "Republic of Ecuador"),
	c("EGY", "EG", "EG", "Egypt", "Arab Republic of Egypt"),
	c("SLV", "SV", "ES", "El Salvador", "Republic of El Salvador"),
	c("GNQ", "GQ", "EK", "Equatorial Guinea"),
	c("ERI", "ER", "ER", "Eritrea", "State of Eritrea"),
	c("EST", "EE", "EN", "Estonia", "Republic of Estonia"),
	c("SWZ", "SZ", "WZ", "Eswatini", "Swaziland", "Kingdom of Eswatini"),
	c("ETH", "ET", "ET", "Ethiopia", "Federal Democratic Republic of Ethiopia"),
	c("FJI", "FJ", "FJ", "Fiji", "Republic of Fiji"),
	c("FIN", "FI", "FI", "Finland", "Republic of Finland", "Suomi"),
	c("FRA", "FR", "FR", "France", "French Republic"),
	c("GAB", "GA", "GB", "Gabon", "Gabonese Republic"),
	c("GMB", "GM", "GA", "Gambia", "The Gambia", "Republic of The Gambia"),
	c("GEO", "GE", "GG", "Georgia"),
	c("DEU", "DE", "GM", "Germany", "Federal Republic of Germany", "Deutschland"),
	c("GHA", "GH", "GH", "Ghana", "Republic of Ghana"),
	c("GRC", "GR", "GR", "Greece", "Hellenic Republic", "Hellas"),
	c("GRD", "GD", "GJ", "Grenada"),
	c("GTM", "GT", "GT", "Guatemala", "Republic of Guatemala"),
	c("GIN", "GN", "GV", "Guinea", "Republic of Guinea"),
	c("GNB", "GW", "PU", "Guinea-Bissau"),
	c("GUY", "GY", "GY", "Guyana", "Co-operative Republic of Guyana"),
	c("HTI", "HT", "HA", "Haiti", "Republic of Haiti"),
	c("HND", "HN", "HO", "Honduras", "Republic of Honduras"),
	c("HKG", "HK", "HK", "Hong Kong", "Hong Kong SAR"),
	c("HUN", "HU", "HU", "Hungary", "Magyarország"),
	c("ISL", "IS", "IC", "Iceland", "Republic of Iceland"),
	c("IND", "IN", "IN", "India", "Republic of India", "Bharat"),
	c("IDN", "ID", "ID", "Indonesia", "Republic of Indonesia"),
	c("IRN", "IR", "IR", "Iran", "Islamic Republic of Iran", "Persia"),
	c("IRQ", "IQ", "IZ", "Iraq", "Republic of Iraq"),
	c("IRL", "IE", "EI", "Ireland", "Republic of Ireland", "Éire"),
	c("ISR", "IL", "IS", "Israel", "State of Israel"),
	c("ITA", "IT", "IT", "Italy", "Italian Republic", "Italia"),
	c("JAM", "JM", "JM", "Jamaica"),
	c("JPN", "JP", "JA", "Japan", "Nippon"),
	c("JOR", "JO", "JO", "Jordan", "Hashemite Kingdom of Jordan"),
	c("KAZ", "KZ", "KZ", "Kazakhstan", "Republic of Kazakhstan"),
	c("KEN", "KE", "KE", "Kenya", "Republic of Kenya"),
	c("KIR", "KI", "KR", "Kiribati"),
	c("PRK", "KP", "KN", "North Korea", "Democratic People's Republic of Korea"),
	c("KOR", "KR", "KS", "South Korea", "Republic of Korea", "Korea"),
	// XKX and XK are the user-assigned codes the European Commission, the IMF
	// and GDELT use for Kosovo. ISO 3166-1 has no entry, so XKX is the one
	// resolution code outside the standard.
	c("XKX", "XK", "KV", "Kosovo", "Republic of Kosovo"),
	c("KWT", "KW", "KU", "Kuwait", "State of Kuwait"),
	c("KGZ", "KG", "KG", "Kyrgyzstan", "Kyrgyz Republic"),
	c("LAO", "LA", "LA", "Laos", "Lao People's Democratic Republic"),
	c("LVA", "LV", "LG", "Latvia", "Republic of Latvia"),
	c("LBN", "LB", "LE", "Lebanon", "Lebanese Republic"),
	c("LSO", "LS", "LT", "Lesotho", "Kingdom of Lesotho"),
	c("LBR", "LR", "LI", "Liberia", "Republic of Liberia"),
	c("LBY", "LY", "LY", "Libya", "State of Libya"),
	c("LIE", "LI", "LS", "Liechtenstein", "Principality of Liechtenstein"),
	c("LTU", "LT", "LH", "Lithuania", "Republic of Lithuania"),
	c("LUX", "LU", "LU", "Luxembourg", "Grand Duchy of Luxembourg"),
	c("MDG", "MG", "MA", "Madagascar", "Republic of Madagascar"),
	c("MWI", "MW", "MI", "Malawi", "Republic of Malawi"),
	c("MYS", "MY", "MY", "Malaysia"),
	c("MDV", "MV", "MV", "Maldives", "Republic of Maldives"),
	c("MLI", "ML", "ML", "Mali", "Republic of Mali"),
	c("MLT", "MT", "MT", "Malta", "Republic of Malta"),
	c("MHL", "MH", "RM", "Marshall Islands"),
	c("MRT", "MR", "MR", "Mauritania", "Islamic Republic of Mauritania"),
	c("MUS", "MU", "MP", "Mauritius", "Republic of Mauritius"),
	c("MEX", "MX", "MX", "Mexico", "United Mexican States", "México"),
	c("FSM", "FM", "FM", "Micronesia", "Federated States of Micronesia"),
	c("MDA", "MD", "MD", "Moldova", "Republic of Moldova"),
	c("MCO", "MC", "MN", "Monaco", "Principality of Monaco"),
	c("MNG", "MN", "MG", "Mongolia"),
	c("MNE", "ME", "MJ", "Montenegro"),
	c("MAR", "MA", "MO", "Morocco", "Kingdom of Morocco"),
	c("MOZ", "MZ", "MZ", "Mozambique", "Republic of Mozambique"),
	c("MMR", "MM", "BM", "Myanmar", "Burma", "Republic of the Union of Myanmar"),
	c("NAM", "NA", "WA", "Namibia", "Republic of Namibia"),
	c("NRU", "NR", "NR", "Nauru"),
	c("NPL", "NP", "NP", "Nepal"),
	c("NLD", "NL", "NL", "Netherlands", "Kingdom of the Netherlands", "Holland"),
	c("NZL", "NZ", "NZ", "New Zealand", "Aotearoa"),
	c("NIC", "NI", "NU", "Nicaragua", "Republic of Nicaragua"),
	c("NER", "NE", "NG", "Niger", "Republic of the Niger"),
	c("NGA", "NG", "NI", "Nigeria", "Federal Republic of Nigeria"),
	c("MKD", "MK", "MK", "North Macedonia", "Macedonia", "Republic of North Macedonia"),
	c("NOR", "NO", "NO", "Norway", "Kingdom of Norway"),
	c("OMN", "OM", "MU", "Oman", "Sultanate of Oman"),
	c("PAK", "PK", "PK", "Pakistan", "Islamic Republic of Pakistan"),
	c("PLW", "PW", "PS", "Palau"),
	c("PSE", "PS", "WE", "Palestine", "State of Palestine", "Palestinian Territories", "West Bank", "Gaza Strip"),
	c("PAN", "PA", "PM", "Panama", "Republic of Panama"),
	c("PNG", "PG", "PP", "Papua New Guinea"),
	c("PRY", "PY", "PA", "Paraguay", "Republic of Paraguay"),
	c("PER", "PE", "PE", "Peru", "Republic of Peru"),
	c("PHL", "PH", "RP", "Philippines", "Republic of the Philippines"),
	c("POL", "PL", "PL", "Poland", "Republic of Poland", "Polska"),
	c("PRT", "PT", "PO", "Portugal", "Portuguese Republic"),
	c("PRI", "PR", "RQ", "Puerto Rico"),
	c("QAT", "QA", "QA", "Qatar", "State of Qatar"),
	c("ROU", "RO", "RO", "Romania"),
	c("RUS", "RU", "RS", "Russia", "Russian Federation"),
	c("RWA", "RW", "RW", "Rwanda", "Republic of Rwanda"),
	c("KNA", "KN", "SC", "Saint Kitts and Nevis", "St Kitts and Nevis"),
	c("LCA", "LC", "ST", "Saint Lucia", "St Lucia"),
	c("VCT", "VC", "VC", "Saint Vincent and the Grenadines", "St Vincent and the Grenadines"),
	c("WSM", "WS", "WS", "Samoa", "Independent State of Samoa"),
	c("SMR", "SM", "SM", "San Marino"),
	c("STP", "ST", "TP", "São Tomé and Príncipe", "Sao Tome and Principe"),
	c("SAU", "SA", "SA", "Saudi Arabia", "Kingdom of Saudi Arabia"),
	c("SEN", "SN", "SG", "Senegal", "Republic of Senegal"),
	c("SRB", "RS", "RI", "Serbia", "Republic of Serbia"),
	c("SYC", "SC", "SE", "Seychelles"),
	c("SLE", "SL", "SL", "Sierra Leone"),
	c("SGP", "SG", "SN", "Singapore", "Republic of Singapore"),
	c("SVK", "SK", "LO", "Slovakia", "Slovak Republic"),
	c("SVN", "SI", "SI", "Slovenia", "Republic of Slovenia"),
	c("SLB", "SB", "BP", "Solomon Islands"),
	c("SOM", "SO", "SO", "Somalia", "Federal Republic of Somalia"),
	c("ZAF", "ZA", "SF", "South Africa", "Republic of South Africa"),
	c("SSD", "SS", "OD", "South Sudan", "Republic of South Sudan"),
	c("ESP", "ES", "SP", "Spain", "Kingdom of Spain", "España"),
	c("LKA", "LK", "CE", "Sri Lanka", "Democratic Socialist Republic of Sri Lanka"),
	c("SDN", "SD", "SU", "Sudan", "Republic of the Sudan"),
	c("SUR", "SR", "NS", "Suriname", "Republic of Suriname"),
	c("SWE", "SE", "SW", "Sweden", "Kingdom of Sweden", "Sverige"),
	c("CHE", "CH", "SZ", "Switzerland", "Swiss Confederation", "Schweiz", "Suisse"),
	c("SYR", "SY", "SY", "Syria", "Syrian Arab Republic"),
	c("TWN", "TW", "TW", "Taiwan", "Republic of China"),
	c("TJK", "TJ", "TI", "Tajikistan", "Republic of Tajikistan"),
	c("TZA", "TZ", "TZ", "Tanzania", "United Republic of Tanzania"),
	c("THA", "TH", "TH", "Thailand", "Kingdom of Thailand"),
	c("TLS", "TL", "TT", "Timor-Leste", "East Timor"),
	c("TGO", "TG", "TO", "Togo", "Togolese Republic"),
	c("TON", "TO", "TN", "Tonga", "Kingdom of Tonga"),
	c("TTO", "TT", "TD", "Trinidad and Tobago", "Trinidad"),
	c("TUN", "TN", "TS", "Tunisia", "Tunisian Republic"),
	c("TUR", "TR", "TU", "Türkiye", "Turkey", "Republic of Türkiye"),
	c("TKM", "TM", "TX", "Turkmenistan"),
	c("TUV", "TV", "TV", "Tuvalu"),
	c("UGA", "UG", "UG", "Uganda", "Republic of Uganda"),
	c("UKR", "UA", "UP", "Ukraine"),
	c("ARE", "AE", "AE", "United Arab Emirates", "Emirates"),
	c("GBR", "GB", "UK", "United Kingdom", "United Kingdom of Great Britain and Northern Ireland", "Great Britain", "Britain", "England", "Scotland", "Northern Ireland"),
	c("USA", "US", "US", "United States", "United States of America"),
	c("URY", "UY", "UY", "Uruguay", "Oriental Republic of Uruguay"),
	c("UZB", "UZ", "UZ", "Uzbekistan", "Republic of Uzbekistan"),
	c("VUT", "VU", "NH", "Vanuatu", "Republic of Vanuatu"),
	c("VAT", "VA", "VT", "Vatican City", "Holy See", "Vatican"),
	c("VEN", "VE", "VE", "Venezuela", "Bolivarian Republic of Venezuela"),
	c("VNM", "VN", "VM", "Vietnam", "Viet Nam", "Socialist Republic of Vietnam"),
	c("YEM", "YE", "YM", "Yemen", "Republic of Yemen"),
	c("ZMB", "ZM", "ZA", "Zambia", "Republic of Zambia"),
	c("ZWE", "ZW", "ZI", "Zimbabwe", "Republic of Zimbabwe"),
}

// countryAcronyms are matched case-sensitively against entity words.
var countryAcronyms = map[string]string{
	"US":   "USA",
	"USA":  "USA",
	"UK":   "GBR",
	"UAE":  "ARE",
	"DRC":  "COD",
	"PRC":  "CHN",
	"ROK":  "KOR",
	"DPRK": "PRK",
}

// formalPrefixes are dropped for the near-exact pass.
var formalPrefixes = []string{
	"the ",
	"republic of ",
	"kingdom of ",
	"state of ",
	"federal republic of ",
	"democratic republic of ",
	"people s republic of ",
	"islamic republic of ",
	"commonwealth of ",
}

// CountryTable resolves country names and codes to ISO alpha-3.
type CountryTable struct {
	byAlpha3 map[string]*Country
	byAlpha2 map[string]*Country
	byFIPS   map[string]*Country
	byName   map[string]string
	sorted   []string
	names    *nameMatcher
}

func NewCountryTable() *CountryTable {
	t := &CountryTable{
		byAlpha3: make(map[string]*Country, len(countryData)),
		byAlpha2: make(map[string]*Country, len(countryData)),
		byFIPS:   make(map[string]*Country, len(countryData)),
		byName:   make(map[string]string),
	}
	for i := range countryData {
		ctry := &countryData[i]
		t.byAlpha3[ctry.Alpha3] = ctry
		t.byAlpha2[ctry.Alpha2] = ctry
		t.byFIPS[ctry.FIPS] = ctry
		for _, n := range ctry.Names {
			key := normalizeName(n)
			if _, dup := t.byName[key]; !dup {
				t.byName[key] = ctry.Alpha3
			}
		}
	}
	for n := range t.byName {
		t.sorted = append(t.sorted, n)
	}
	sort.Strings(t.sorted)
	t.names = newNameMatcher(t.byName)
	return t
}

// Alpha3 validates an alpha-3 code.
func (t *CountryTable) Alpha3(code string) (string, bool) {
	ctry, ok := t.byAlpha3[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return "", false
	}
	return ctry.Alpha3, true
}

// FromAlpha2 maps an ISO alpha-2 code (as used by ccTLDs and geocoders) to alpha-3.
func (t *CountryTable) FromAlpha2(code string) (string, bool) {
	ctry, ok := t.byAlpha2[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return "", false
	}
	return ctry.Alpha3, true
}

// FromFIPS maps a FIPS 10-4 code (as used by GDELT) to alpha-3.
func (t *CountryTable) FromFIPS(code string) (string, bool) {
	ctry, ok := t.byFIPS[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return "", false
	}
	return ctry.Alpha3, true
}

// LookupName resolves a country name. Exact normalized names win; then a
// country name surrounded only by locational qualifiers; then formal-prefix
// and single-edit variants of the whole mention sharing the first letter.
func (t *CountryTable) LookupName(name string) (string, bool) {
	key := normalizeName(name)
	if key == "" {
		return "", false
	}
	if code, ok := t.byName[key]; ok {
		return code, true
	}
	if _, code, ok := t.names.lookup(key); ok {
		return code, true
	}

	stripped := key
	for _, p := range formalPrefixes {
		stripped = strings.TrimPrefix(stripped, p)
	}
	if code, ok := t.byName[stripped]; ok {
		return code, true
	}

	if len(stripped) <= 5 {
		return "", false
	}
	for _, n := range t.sorted {
		if len(n) > 5 && n[0] == stripped[0] && abs(len(n)-len(stripped)) <= 1 && levenshtein(n, stripped) <= 1 {
			return t.byName[n], true
		}
	}
	return "", false
}

// Lookup resolves an extracted entity, trying all-caps acronyms first.
func (t *CountryTable) Lookup(e Entity) (string, bool) {
	for _, w := range strings.Fields(e.Text) {
		if code, ok := countryAcronyms[w]; ok {
			return code, true
		}
	}
	return t.LookupName(e.Text)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
