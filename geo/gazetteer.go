package geo

// cityCountries maps capitals and major cities to ISO alpha-3. Names that
// commonly refer to more than one place are left out. Kosovo uses XKX, see
// countryData.
var cityCountries = map[string]string{
	// Europe
	"London": "GBR", "Manchester": "GBR", "Edinburgh": "GBR", "Glasgow": "GBR", "Belfast": "GBR", "Cardiff": "GBR", "Liverpool": "GBR",
	"Paris": "FRA", "Marseille": "FRA", "Toulouse": "FRA", "Strasbourg": "FRA", "Bordeaux": "FRA",
	"Berlin": "DEU", "Hamburg": "DEU", "Munich": "DEU", "München": "DEU", "Frankfurt": "DEU", "Cologne": "DEU", "Stuttgart": "DEU", "Düsseldorf": "DEU",
	"Madrid": "ESP", "Barcelona": "ESP", "Seville": "ESP", "Bilbao": "ESP",
	"Rome": "ITA", "Milan": "ITA", "Naples": "ITA", "Turin": "ITA", "Florence": "ITA", "Venice": "ITA", "Palermo": "ITA",
	"Lisbon": "PRT", "Porto": "PRT",
	"Amsterdam": "NLD", "Rotterdam": "NLD", "The Hague": "NLD", "Hague": "NLD",
	"Brussels": "BEL", "Antwerp": "BEL",
	"Vienna": "AUT", "Zurich": "CHE", "Zürich": "CHE", "Geneva": "CHE", "Bern": "CHE",
	"Dublin": "IRL", "Copenhagen": "DNK", "Stockholm": "SWE", "Gothenburg": "SWE", "Oslo": "NOR", "Helsinki": "FIN", "Reykjavik": "ISL",
	"Warsaw": "POL", "Krakow": "POL", "Kraków": "POL", "Gdansk": "POL",
	"Prague": "CZE", "Bratislava": "SVK", "Budapest": "HUN", "Bucharest": "ROU", "Sofia": "BGR",
	"Athens": "GRC", "Thessaloniki": "GRC", "Belgrade": "SRB", "Zagreb": "HRV", "Ljubljana": "SVN", "Sarajevo": "BIH",
	"Skopje": "MKD", "Tirana": "ALB", "Podgorica": "MNE", "Pristina": "XKX",
	"Kyiv": "UKR", "Kiev": "UKR", "Kharkiv": "UKR", "Odesa": "UKR", "Odessa": "UKR", "Lviv": "UKR", "Mariupol": "UKR", "Zaporizhzhia": "UKR",
	"Moscow": "RUS", "St Petersburg": "RUS", "Saint Petersburg": "RUS", "Novosibirsk": "RUS", "Vladivostok": "RUS",
	"Minsk": "BLR", "Chisinau": "MDA", "Vilnius": "LTU", "Riga": "LVA", "Tallinn": "EST",
	"Nicosia": "CYP", "Valletta": "MLT", "Luxembourg City": "LUX",

	// Middle East and North Africa
	"Istanbul": "TUR", "Ankara": "TUR", "Izmir": "TUR",
	"Tehran": "IRN", "Baghdad": "IRQ", "Basra": "IRQ", "Mosul": "IRQ", "Erbil": "IRQ",
	"Damascus": "SYR", "Aleppo": "SYR", "Beirut": "LBN", "Amman": "JOR",
	"Jerusalem": "ISR", "Tel Aviv": "ISR", "Haifa": "ISR", "Ramallah": "PSE", "Gaza City": "PSE", "Rafah": "PSE", "Khan Younis": "PSE",
	"Riyadh": "SAU", "Jeddah": "SAU", "Mecca": "SAU", "Doha": "QAT", "Dubai": "ARE", "Abu Dhabi": "ARE",
	"Muscat": "OMN", "Manama": "BHR", "Kuwait City": "KWT", "Sanaa": "YEM", "Aden": "YEM",
	"Cairo": "EGY", "Benghazi": "LBY", "Tunis": "TUN", "Algiers": "DZA",
	"Rabat": "MAR", "Casablanca": "MAR", "Marrakech": "MAR", "Khartoum": "SDN",

	// Sub-Saharan Africa
	"Lagos": "NGA", "Abuja": "NGA", "Kano": "NGA", "Accra": "GHA", "Dakar": "SEN", "Abidjan": "CIV", "Bamako": "MLI",
	"Ouagadougou": "BFA", "Niamey": "NER", "Ndjamena": "TCD", "N'Djamena": "TCD",
	"Nairobi": "KEN", "Mombasa": "KEN", "Addis Ababa": "ETH", "Mogadishu": "SOM", "Kampala": "UGA", "Kigali": "RWA",
	"Dar es Salaam": "TZA", "Dodoma": "TZA", "Juba": "SSD", "Asmara": "ERI",
	"Kinshasa": "COD", "Goma": "COD", "Brazzaville": "COG", "Luanda": "AGO", "Lusaka": "ZMB", "Harare": "ZWE",
	"Johannesburg": "ZAF", "Cape Town": "ZAF", "Durban": "ZAF", "Pretoria": "ZAF",
	"Maputo": "MOZ", "Windhoek": "NAM", "Gaborone": "BWA", "Antananarivo": "MDG", "Lilongwe": "MWI",
	"Yaounde": "CMR", "Douala": "CMR", "Libreville": "GAB", "Bangui": "CAF", "Freetown": "SLE", "Monrovia": "LBR", "Conakry": "GIN",

	// Asia
	"Beijing": "CHN", "Shanghai": "CHN", "Guangzhou": "CHN", "Shenzhen": "CHN", "Wuhan": "CHN", "Chengdu": "CHN", "Xinjiang": "CHN",
	"Hong Kong": "HKG", "Taipei": "TWN", "Kaohsiung": "TWN",
	"Tokyo": "JPN", "Osaka": "JPN", "Kyoto": "JPN", "Yokohama": "JPN", "Hiroshima": "JPN", "Fukushima": "JPN",
	"Seoul": "KOR", "Busan": "KOR", "Pyongyang": "PRK",
	"New Delhi": "IND", "Delhi": "IND", "Mumbai": "IND", "Kolkata": "IND", "Chennai": "IND", "Bengaluru": "IND", "Bangalore": "IND",
	"Islamabad": "PAK", "Karachi": "PAK", "Lahore": "PAK", "Peshawar": "PAK",
	"Dhaka": "BGD", "Kathmandu": "NPL", "Colombo": "LKA", "Kabul": "AFG", "Kandahar": "AFG",
	"Bangkok": "THA", "Hanoi": "VNM", "Ho Chi Minh City": "VNM", "Saigon": "VNM", "Phnom Penh": "KHM", "Vientiane": "LAO",
	"Yangon": "MMR", "Naypyidaw": "MMR", "Kuala Lumpur": "MYS", "Jakarta": "IDN", "Bali": "IDN", "Surabaya": "IDN",
	"Manila": "PHL", "Cebu": "PHL", "Davao": "PHL", "Ulaanbaatar": "MNG",
	"Astana": "KAZ", "Almaty": "KAZ", "Tashkent": "UZB", "Bishkek": "KGZ", "Dushanbe": "TJK", "Ashgabat": "TKM",
	"Tbilisi": "GEO", "Yerevan": "ARM", "Baku": "AZE",

	// Americas
	"Washington DC": "USA", "New York City": "USA", "Los Angeles": "USA", "Chicago": "USA", "San Francisco": "USA",
	"Houston": "USA", "Seattle": "USA", "Boston": "USA", "Miami": "USA", "Atlanta": "USA", "Philadelphia": "USA", "Detroit": "USA",
	"Ottawa": "CAN", "Toronto": "CAN", "Montreal": "CAN", "Montréal": "CAN", "Vancouver": "CAN", "Calgary": "CAN",
	"Mexico City": "MEX", "Guadalajara": "MEX", "Monterrey": "MEX", "Tijuana": "MEX",
	"Havana": "CUB", "Port-au-Prince": "HTI", "Santo Domingo": "DOM",
	"Guatemala City": "GTM", "Tegucigalpa": "HND", "San Salvador": "SLV", "Managua": "NIC", "Panama City": "PAN",
	"Bogota": "COL", "Bogotá": "COL", "Medellin": "COL", "Medellín": "COL", "Caracas": "VEN", "Maracaibo": "VEN",
	"Quito": "ECU", "Guayaquil": "ECU", "Lima": "PER", "La Paz": "BOL",
	"Buenos Aires": "ARG", "Montevideo": "URY", "Asuncion": "PRY", "Asunción": "PRY",
	"Sao Paulo": "BRA", "São Paulo": "BRA", "Rio de Janeiro": "BRA", "Brasilia": "BRA", "Brasília": "BRA", "Salvador da Bahia": "BRA",
	"Valparaiso": "CHL", "Valparaíso": "CHL",

	// Oceania
	"Canberra": "AUS", "Sydney": "AUS", "Melbourne": "AUS", "Brisbane": "AUS", "Adelaide": "AUS",
	"Wellington": "NZL", "Auckland": "NZL", "Christchurch": "NZL", "Port Moresby": "PNG", "Suva": "FJI",
}

// Gazetteer is the in-process city table. It is read-only after construction.
type Gazetteer struct {
	matcher *nameMatcher
}

func NewGazetteer() *Gazetteer {
	return NewGazetteerFromTable(cityCountries)
}

// NewGazetteerFromTable builds a gazetteer over a custom city → alpha-3 table.
func NewGazetteerFromTable(table map[string]string) *Gazetteer {
	return &Gazetteer{matcher: newNameMatcher(table)}
}

// Lookup returns the country of the city the entity names, allowing only
// locational qualifiers around it.
func (g *Gazetteer) Lookup(e Entity) (string, bool) {
	key := e.Key
	if key == "" {
		key = normalizeName(e.Text)
	}
	_, code, ok := g.matcher.lookup(key)
	return code, ok
}
