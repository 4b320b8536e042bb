package presign

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// amzDateLayout is the SigV4 X-Amz-Date encoding (%Y%m%dT%H%M%SZ).
const amzDateLayout = "20060102T150405Z"

var ErrNoExpiration = errors.New("presign: url carries no expiration")

// ParseExpiration reads the signing time and validity window a SigV4
// presigned URL carries in its query string and returns the instant the URL
// stops working.
func ParseExpiration(rawURL string) (time.Time, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse presigned url: %w", err)
	}
	q := u.Query()
	signed, expires := q.Get("X-Amz-Date"), q.Get("X-Amz-Expires")
	if signed == "" || expires == "" {
		return time.Time{}, ErrNoExpiration
	}
	issued, err := time.ParseInLocation(amzDateLayout, signed, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad X-Amz-Date %q: %v", ErrNoExpiration, signed, err)
	}
	seconds, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || seconds < 0 {
		return time.Time{}, fmt.Errorf("%w: bad X-Amz-Expires %q", ErrNoExpiration, expires)
	}
	return issued.Add(time.Duration(seconds) * time.Second), nil
}
