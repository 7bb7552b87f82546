package objectstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	awsAlgorithm  = "AWS4-HMAC-SHA256"
	awsRequestTag = "aws4_request"
)

// signer produces SigV4 canonical requests and Authorization headers for a
// fixed (region, access key, secret key) tuple. It holds no
// transport state; every method is pure given its inputs and the current
// time passed in explicitly, so it can be property-tested deterministically.
type signer struct {
	region    string
	accessKey string
	secretKey string
}

func newSigner(region, accessKey, secretKey string) *signer {
	return &signer{region: region, accessKey: accessKey, secretKey: secretKey}
}

// signRequest computes the canonical request, string to sign, and signing
// key for the given HTTP method/path/query/headers/body, and returns the
// value of the Authorization header plus the extra headers (x-amz-date,
// x-amz-content-sha256) that must be attached to the outgoing request.
func (s *signer) signRequest(method, path, rawQuery string, headers map[string]string, host string, body []byte, now time.Time) (authorization string, extraHeaders map[string]string) {
	amzDate := now.UTC().Format("20060102T150405Z")
	dateStamp := now.UTC().Format("20060102")
	payloadHash := hashPayload(body)

	allHeaders := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		allHeaders[strings.ToLower(k)] = strings.TrimSpace(v)
	}
	allHeaders["host"] = host
	allHeaders["x-amz-date"] = amzDate
	allHeaders["x-amz-content-sha256"] = payloadHash

	canonicalHeaders, signedHeaders := canonicalizeHeaders(allHeaders)
	canonicalQuery := canonicalizeQuery(rawQuery)

	canonicalRequest := strings.Join([]string{
		method,
		path,
		canonicalQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/s3/%s", dateStamp, s.region, awsRequestTag)
	stringToSign := strings.Join([]string{
		awsAlgorithm,
		amzDate,
		credentialScope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := s.deriveSigningKey(dateStamp)
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))

	authorization = fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		awsAlgorithm, s.accessKey, credentialScope, signedHeaders, signature,
	)

	return authorization, map[string]string{
		"x-amz-date":           amzDate,
		"x-amz-content-sha256": payloadHash,
	}
}

// deriveSigningKey computes the SigV4 signing key chain:
// HMAC-SHA256(HMAC-SHA256(HMAC-SHA256(HMAC-SHA256("AWS4"+secret, date), region), "s3"), "aws4_request").
func (s *signer) deriveSigningKey(dateStamp string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.secretKey), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(s.region))
	kService := hmacSHA256(kRegion, []byte("s3"))
	return hmacSHA256(kService, []byte(awsRequestTag))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hashPayload(body []byte) string {
	return hashHex(body)
}

// canonicalizeHeaders lowercases names (already done by caller), trims
// values, sorts by name, and returns the "name:value\n"-joined block plus
// the semicolon-joined SignedHeaders list.
func canonicalizeHeaders(headers map[string]string) (canonical, signed string) {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(headers[name])
		b.WriteByte('\n')
	}

	return b.String(), strings.Join(names, ";")
}

// canonicalizeQuery implements the spec's query canonicalization: split on
// '&', percent-decode each key/value as UTF-8 ('+' treated as space during
// decode, %XX case-insensitive), then re-encode using the RFC3986
// unreserved set and sort lexicographically by (encoded-key, encoded-value)
// using byte-wise ordering.
func canonicalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	type kv struct{ k, v string }
	var pairs []kv

	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		var k, v string
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			k, v = part[:idx], part[idx+1:]
		} else {
			k = part
		}
		decodedKey := decodeQueryComponent(k)
		decodedVal := decodeQueryComponent(v)
		pairs = append(pairs, kv{rfc3986Encode(decodedKey), rfc3986Encode(decodedVal)})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.k+"="+p.v)
	}
	return strings.Join(parts, "&")
}

// decodeQueryComponent percent-decodes a query key or value, treating '+'
// as a literal space the way application/x-www-form-urlencoded does, and
// tolerating %XX regardless of hex-digit case.
func decodeQueryComponent(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		// Malformed percent-encoding: fall back to the raw string rather
		// than failing the whole request; AWS's own canonicalizer is
		// equally lenient about inputs it cannot parse strictly.
		return s
	}
	return decoded
}

// rfc3986Unreserved is the exact unreserved character set from RFC 3986
// (A-Z a-z 0-9 - . _ ~); everything else is percent-encoded with uppercase
// hex digits.
func rfc3986Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

// canonicalURIEncode percent-encodes a request path for use as the
// canonical URI, leaving '/' unescaped between segments.
func canonicalURIEncode(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = rfc3986Encode(seg)
	}
	return strings.Join(segments, "/")
}
