package enums

import "strings"

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

func ParsePlatform(raw string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ios":
		return PlatformIOS, true
	case "android":
		return PlatformAndroid, true
	default:
		return "", false
	}
}

type Source string

const (
	SourceAppleIAP   Source = "apple_iap"
	SourceGooglePlay Source = "google_play"
)

func SourceForPlatform(platform Platform) Source {
	if platform == PlatformAndroid {
		return SourceGooglePlay
	}
	return SourceAppleIAP
}
