package frontend

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jacktea/blobfront/pkg/meta"
	"github.com/jacktea/blobfront/pkg/rest"
	"github.com/jacktea/blobfront/pkg/xerrors"
)

const opPost = "HandlePost"

// blobPropertiesFrom builds the properties and user metadata of a new blob
// from the request headers.
func blobPropertiesFrom(req rest.Request) (meta.BlobProperties, meta.UserMetadata, error) {
	props := meta.BlobProperties{TTLSeconds: meta.InfiniteTTL}

	raw, err := requiredHeader(req, rest.HeaderBlobSize)
	if err != nil {
		return props, nil, err
	}
	props.Size, err = strconv.ParseInt(raw, 10, 64)
	if err != nil || props.Size < 0 {
		return props, nil, invalidHeader(rest.HeaderBlobSize, raw)
	}
	if props.ServiceID, err = requiredHeader(req, rest.HeaderBlobServiceID); err != nil {
		return props, nil, err
	}
	if props.ContentType, err = requiredHeader(req, rest.HeaderBlobContentType); err != nil {
		return props, nil, err
	}
	if raw, ok := req.Header(rest.HeaderBlobTTL); ok {
		props.TTLSeconds, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || props.TTLSeconds < meta.InfiniteTTL {
			return props, nil, invalidHeader(rest.HeaderBlobTTL, raw)
		}
	}
	if raw, ok := req.Header(rest.HeaderBlobPrivate); ok {
		props.Private, err = strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return props, nil, invalidHeader(rest.HeaderBlobPrivate, raw)
		}
	}
	if owner, ok := req.Header(rest.HeaderBlobOwnerID); ok {
		props.OwnerID = strings.TrimSpace(owner)
	}

	var md meta.UserMetadata
	for _, h := range req.Headers() {
		name := strings.ToLower(h.Name)
		if strings.HasPrefix(name, rest.UserMetadataPrefix) {
			md.Set(name, h.Value)
		}
	}
	return props, md, nil
}

func requiredHeader(req rest.Request, name string) (string, error) {
	v, ok := req.Header(name)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", xerrors.E(xerrors.KindMissingArgs, opPost, name)
	}
	return v, nil
}

func invalidHeader(name, value string) error {
	return xerrors.Wrap(xerrors.KindInvalidArgs, opPost, name, fmt.Errorf("invalid value %q", value))
}

// headerSetter stops at the first header the channel rejects.
type headerSetter struct {
	ch  rest.ResponseChannel
	err error
}

func (h *headerSetter) set(name, value string) {
	if h.err != nil {
		return
	}
	h.err = h.ch.SetHeader(name, value)
}

func (h *headerSetter) status(code int) {
	if h.err != nil {
		return
	}
	h.err = h.ch.SetStatus(code)
}

func httpTime(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// blobHeaders describes a blob the way GET and HEAD report it.
func (h *headerSetter) blobHeaders(info *meta.BlobInfo) {
	p := info.Properties
	h.set(rest.HeaderBlobSize, strconv.FormatInt(p.Size, 10))
	h.set(rest.HeaderBlobServiceID, p.ServiceID)
	h.set(rest.HeaderBlobPrivate, strconv.FormatBool(p.Private))
	h.set(rest.HeaderBlobContentType, p.ContentType)
	h.set(rest.HeaderContentType, p.ContentType)
	if p.TTLSeconds != meta.InfiniteTTL {
		h.set(rest.HeaderBlobTTL, strconv.FormatInt(p.TTLSeconds, 10))
	}
	if p.OwnerID != "" {
		h.set(rest.HeaderBlobOwnerID, p.OwnerID)
	}
	if !p.CreationTime.IsZero() {
		h.set(rest.HeaderCreationTime, httpTime(p.CreationTime))
		h.set(rest.HeaderLastModified, httpTime(p.CreationTime))
	}
	for _, e := range info.UserMetadata {
		h.set(e.Key, e.Value)
	}
}
