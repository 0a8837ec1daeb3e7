package rfid

import (
	"regexp"
	"strings"
)

// knownReaderTokens are vendor and model fragments found in RFID reader names.
var knownReaderTokens = []string{
	"TSL",  // TSL readers
	"1128", // e.g. "011420-BR-1128"
	"1153",
	"1166",
	"2128",
	"2166",
	"ACURA",
	"BTL", // ACURA BTL series
	"RFID",
	"UHF",
	"-BR-",
	"-US-",
	"-UK-",
}

// readerCodePattern matches the serial-country-model convention,
// e.g. "011420-BR-1128".
var readerCodePattern = regexp.MustCompile(`\d{5,7}-[A-Z]{2}-\d{4}`)

// IsRfidReader reports whether a discovered device name looks like an RFID
// reader. Matching is case-insensitive.
func IsRfidReader(displayName string) bool {
	name := strings.ToUpper(displayName)
	if name == "" {
		return false
	}
	for _, token := range knownReaderTokens {
		if strings.Contains(name, token) {
			return true
		}
	}
	return readerCodePattern.MatchString(name)
}

// MatchedToken returns the allow-list token or pattern that classified the
// name, for diagnostics. It returns "" when IsRfidReader would be false.
func MatchedToken(displayName string) string {
	name := strings.ToUpper(displayName)
	if name == "" {
		return ""
	}
	for _, token := range knownReaderTokens {
		if strings.Contains(name, token) {
			return token
		}
	}
	return readerCodePattern.FindString(name)
}

// Classify splits readers into RFID readers and ignored devices, returning
// the display names of each in registry order.
func Classify(readers []Reader) (rfidDevices, ignoredDevices []string) {
	rfidDevices = []string{}
	ignoredDevices = []string{}
	for _, r := range readers {
		if IsRfidReader(r.DisplayName) {
			rfidDevices = append(rfidDevices, r.Name())
		} else {
			ignoredDevices = append(ignoredDevices, r.Name())
		}
	}
	return rfidDevices, ignoredDevices
}
