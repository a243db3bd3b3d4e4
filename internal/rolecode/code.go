package rolecode

// Code is a known organizational role. Codes outside the catalogue parse to
// Unknown and are still usable through Matches.
type Code int

const (
	Unknown Code = iota
	SE
	CE
	DCE
	CFO
	COO
	CEO
	RE
	XEN
	AEE
	DAO
	AO
	SubEngineer
	IAOII
	ADLFA
	AdministrativeOfficer
	DirectorMedicalServices
)

var codeNames = map[Code]string{
	Unknown:                 "UNKNOWN",
	SE:                      "SE",
	CE:                      "CE",
	DCE:                     "DCE",
	CFO:                     "CFO",
	COO:                     "COO",
	CEO:                     "CEO",
	RE:                      "RE",
	XEN:                     "XEN",
	AEE:                     "AEE",
	DAO:                     "DAO",
	AO:                      "AO",
	SubEngineer:             "SUB_ENGINEER",
	IAOII:                   "IAO_II",
	ADLFA:                   "ADLFA",
	AdministrativeOfficer:   "ADMINISTRATIVE_OFFICER",
	DirectorMedicalServices: "DIRECTOR_MEDICAL_SERVICES",
}

var codesByCompact = func() map[string]Code {
	m := make(map[string]Code, len(codeNames))
	for c, name := range codeNames {
		if c == Unknown {
			continue
		}
		m[compact(name)] = c
	}
	return m
}()

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return codeNames[Unknown]
}

// Parse resolves a raw directory code to a catalogue entry. Only whole-code
// matches count; "SE_CIVIL" is Unknown here even though Matches(code, "SE")
// holds.
func Parse(raw string) Code {
	n := Normalize(raw)
	if n == "" {
		return Unknown
	}
	if c, ok := codesByCompact[compact(n)]; ok {
		return c
	}
	return Unknown
}

// Label returns the canonical name when the code is catalogued and the
// normalized raw code otherwise.
func Label(raw string) string {
	if c := Parse(raw); c != Unknown {
		return c.String()
	}
	if n := Normalize(raw); n != "" {
		return n
	}
	return codeNames[Unknown]
}
