package remotedb

import (
	"context"
	"net/http"
	"strings"

	"archimap/internal/rangefetch"
)

// OpenSource picks a rangefetch.Source for raw: http(s) URLs are read with
// range requests, s3:// URIs through the S3 API, anything else is a local
// path (an optional file:// prefix is stripped).
func OpenSource(ctx context.Context, raw, infoURL, s3Region string, client *http.Client) (rangefetch.Source, error) {
	switch {
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		src := rangefetch.NewHTTPSource(raw)
		if infoURL != "" {
			src.InfoURL = infoURL
		}
		if client != nil {
			src.Client = client
		}
		return src, nil
	case strings.HasPrefix(raw, "s3://"):
		return rangefetch.NewS3Source(ctx, raw, s3Region)
	default:
		return rangefetch.OpenFile(strings.TrimPrefix(raw, "file://"))
	}
}
