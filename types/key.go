package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Segment is one element of a QueryKey: either a string or a number.
type Segment struct {
	str   string
	num   float64
	isNum bool
}

// Str returns a string segment.
func Str(s string) Segment {
	return Segment{str: s}
}

// Num returns a numeric segment. NaN and the infinities have no JSON
// number form, so they become the string segments "NaN", "+Inf" and "-Inf".
// Negative zero is stored as zero.
func Num(f float64) Segment {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Str(strconv.FormatFloat(f, 'g', -1, 64))
	}
	if f == 0 {
		f = 0
	}
	return Segment{num: f, isNum: true}
}

// Int returns a numeric segment holding an integer.
func Int(i int64) Segment {
	return Num(float64(i))
}

// IsNumber reports whether the segment holds a number.
func (s Segment) IsNumber() bool {
	return s.isNum
}

// String returns the segment as it appears in a URL path.
func (s Segment) String() string {
	if s.isNum {
		return strconv.FormatFloat(s.num, 'f', -1, 64)
	}
	return s.str
}

// Equal reports structural equality: "7" and 7 are different segments.
func (s Segment) Equal(other Segment) bool {
	if s.isNum != other.isNum {
		return false
	}
	if s.isNum {
		return s.num == other.num
	}
	return s.str == other.str
}

// MarshalJSON encodes the segment as a bare JSON string or number.
func (s Segment) MarshalJSON() ([]byte, error) {
	if s.isNum {
		return []byte(strconv.FormatFloat(s.num, 'g', -1, 64)), nil
	}
	return json.Marshal(s.str)
}

// UnmarshalJSON decodes a JSON string or number.
func (s *Segment) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Str(str)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("query key segment must be a string or number: %s", data)
	}
	*s = Num(f)
	return nil
}

// QueryKey is an ordered list of segments addressing one cached query,
// e.g. ["/api/products", "42", "reviews"].
type QueryKey []Segment

// Key builds a QueryKey from strings, integers, floats and Segments.
func Key(parts ...any) QueryKey {
	key := make(QueryKey, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case Segment:
			key = append(key, v)
		case string:
			key = append(key, Str(v))
		case int:
			key = append(key, Int(int64(v)))
		case int32:
			key = append(key, Int(int64(v)))
		case int64:
			key = append(key, Int(v))
		case uint:
			key = append(key, Num(float64(v)))
		case uint32:
			key = append(key, Num(float64(v)))
		case uint64:
			key = append(key, Num(float64(v)))
		case float32:
			key = append(key, Num(float64(v)))
		case float64:
			key = append(key, Num(v))
		default:
			key = append(key, Str(fmt.Sprintf("%v", v)))
		}
	}
	return key
}

// KeyOf builds a QueryKey of string segments.
func KeyOf(parts ...string) QueryKey {
	key := make(QueryKey, len(parts))
	for i, p := range parts {
		key[i] = Str(p)
	}
	return key
}

// Equal reports segment-wise equality.
func (k QueryKey) Equal(other QueryKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if !k[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a leading subsequence of k.
// The empty key is a prefix of every key.
func (k QueryKey) HasPrefix(prefix QueryKey) bool {
	if len(prefix) > len(k) {
		return false
	}
	return k[:len(prefix)].Equal(prefix)
}

// Append returns a new key with segs appended. k is never modified.
func (k QueryKey) Append(segs ...Segment) QueryKey {
	out := make(QueryKey, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, segs...)
}

// First returns the first segment, or an empty string segment for an empty key.
func (k QueryKey) First() Segment {
	if len(k) == 0 {
		return Segment{}
	}
	return k[0]
}

// Hash returns the canonical encoding of the key. Two keys share a hash
// exactly when they are Equal.
func (k QueryKey) Hash() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, s := range k {
		if i > 0 {
			b.WriteByte(',')
		}
		if s.isNum {
			b.WriteString(strconv.FormatFloat(s.num, 'g', -1, 64))
		} else {
			b.WriteString(strconv.Quote(s.str))
		}
	}
	b.WriteByte(']')
	return b.String()
}

// String implements fmt.Stringer.
func (k QueryKey) String() string {
	return k.Hash()
}

// Path joins the segments with "/" to form the request path.
func (k QueryKey) Path() string {
	parts := make([]string, len(k))
	for i, s := range k {
		parts[i] = s.String()
	}
	return strings.Join(parts, "/")
}
