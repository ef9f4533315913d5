package decoder

import (
	"regexp"
	"strconv"
	"strings"
)

// Wire limits. Devices are untrusted, everything above these is dropped.
const (
	MaxMessageBytes = 1024
	MaxTopicBytes   = 200
	MaxAccountLen   = 50
	MaxDeviceIDLen  = 100
	MaxPayloadKeys  = 20
)

var (
	topicPattern   = regexp.MustCompile(`^HBEE/[a-zA-Z0-9_-]+/[a-zA-Z0-9_-]+/[a-zA-Z0-9_-]+(/(SER|DEV))?$`)
	segmentPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	sqlThreatPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(union|select|insert|update|delete|drop|create|alter|exec)\s`),
		regexp.MustCompile(`(?i)(or|and)\s+\d+\s*=\s*\d+`),
		regexp.MustCompile(`(?i)(or|and)\s+['"]\s*=\s*['"]`),
		regexp.MustCompile(`(?i)union\s+select`),
		regexp.MustCompile(`(?i)drop\s+table`),
		regexp.MustCompile(`(?i)insert\s+into`),
		regexp.MustCompile(`(?i)delete\s+from`),
	}

	xssThreatPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?is)<iframe[^>]*>.*?</iframe>`),
		regexp.MustCompile(`(?is)<object[^>]*>.*?</object>`),
		regexp.MustCompile(`(?is)<embed[^>]*>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)vbscript:`),
		regexp.MustCompile(`(?i)onload\s*=`),
		regexp.MustCompile(`(?i)onerror\s*=`),
		regexp.MustCompile(`(?i)onclick\s*=`),
	}
)

// HasSecurityThreat reports whether the message matches a known SQL
// injection or XSS pattern. Matches are dropped fail-closed, no error
// frame goes back to the device.
func HasSecurityThreat(message string) bool {
	for _, p := range sqlThreatPatterns {
		if p.MatchString(message) {
			return true
		}
	}
	for _, p := range xssThreatPatterns {
		if p.MatchString(message) {
			return true
		}
	}
	return false
}

// ValidTopic checks length and shape of a routing topic.
func ValidTopic(topic string) bool {
	if topic == "" || len(topic) > MaxTopicBytes {
		return false
	}
	if !topicPattern.MatchString(topic) {
		return false
	}
	parts := strings.Split(topic, "/")
	if len(parts[1]) > MaxAccountLen || len(parts[3]) > MaxDeviceIDLen {
		return false
	}
	return true
}

// ValidAccountID checks an account identifier taken from a payload field.
func ValidAccountID(account string) bool {
	if account == "" || len(account) > MaxAccountLen {
		return false
	}
	return segmentPattern.MatchString(account)
}

// ValidDeviceID checks a device identifier taken from a payload field.
func ValidDeviceID(deviceID string) bool {
	if deviceID == "" || len(deviceID) > MaxDeviceIDLen {
		return false
	}
	return segmentPattern.MatchString(deviceID)
}

// ValidSensorValue accepts the literal "Error" or a number in [-200, 1000].
func ValidSensorValue(value string) bool {
	if value == "" {
		return false
	}
	if value == "Error" {
		return true
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}
	return n >= -200 && n <= 1000
}

// ValidParamValue accepts a set-response parameter in [-1000, 1000].
func ValidParamValue(value string) bool {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}
	return n >= -1000 && n <= 1000
}
