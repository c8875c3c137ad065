package types

// Server value placeholders. A write payload may carry the marker
// {".sv": "timestamp"} in place of a concrete value; it is substituted
// with the server's authoritative clock when the write commits. Locally
// the placeholder is resolved against an estimated server time exactly
// once, at the moment the write is promoted for sending; the unresolved
// original stays in the pending-write log so a replay after reconnect
// resolves freshly.

const serverValueKey = ".sv"

var serverTimestamp Variant

func init() {
	serverTimestamp = Map(map[string]Variant{serverValueKey: String("timestamp")})
}

// ServerTimestamp returns the placeholder Variant that the server
// replaces with its clock at commit time.
func ServerTimestamp() Variant {
	return serverTimestamp
}

// IsServerTimestamp reports whether v is the timestamp placeholder.
func IsServerTimestamp(v Variant) bool {
	return v.Type() == TypeMap &&
		v.NumChildren() == 1 &&
		v.Child(serverValueKey).AsString() == "timestamp"
}

// ResolveDeferredValue replaces every server-value placeholder in v with
// the given estimated server time in milliseconds. Values without
// placeholders are returned unchanged.
func ResolveDeferredValue(v Variant, estimatedServerTimeMillis int64) Variant {
	if IsServerTimestamp(v) {
		return Int64(estimatedServerTimeMillis)
	}
	if v.Type() != TypeMap {
		return v
	}
	resolved := v
	for _, key := range v.ChildKeys() {
		child := v.Child(key)
		rc := ResolveDeferredValue(child, estimatedServerTimeMillis)
		if !rc.Equals(child) {
			resolved = resolved.WithChild(NewPath(key), rc)
		}
	}
	return resolved
}

// HasDeferredValue reports whether v contains any server-value
// placeholder at any depth.
func HasDeferredValue(v Variant) bool {
	if IsServerTimestamp(v) {
		return true
	}
	for _, key := range v.ChildKeys() {
		if HasDeferredValue(v.Child(key)) {
			return true
		}
	}
	return false
}
