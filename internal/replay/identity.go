package replay

// Identity derives the rate-limit bucket key for one replay request,
// grounded on original_source/rust_gateway/src/services/replay.rs'
// rate_limit_identity.
func Identity(strategy, apiKey, callerIP string) string {
	switch strategy {
	case "api_key":
		return apiKey
	case "ip":
		return callerIP
	case "api_key_and_ip":
		if apiKey == "" {
			return callerIP
		}
		return apiKey + ":" + callerIP
	default:
		if apiKey == "" {
			return callerIP
		}
		return apiKey
	}
}
