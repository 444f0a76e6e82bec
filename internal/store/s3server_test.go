package store_test

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	S3AccessKey = "minioadmin"
	S3SecretKey = "minioadmin"
	S3Region    = "us-east-1"
)

// S3Endpoint is an in-memory stand-in for the subset of the S3 REST API the
// store backends use: bucket HEAD/PUT, ListObjectsV2, and object
// PUT/GET/HEAD/DELETE.
type S3Endpoint struct {
	mu        sync.Mutex
	buckets   map[string]map[string][]byte
	pageSize  int
	listPages int
}

type s3Error struct {
	XMLName  xml.Name `xml:"Error"`
	Code     string   `xml:"Code"`
	Message  string   `xml:"Message"`
	Resource string   `xml:"Resource"`
}

type s3ListEntry struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type s3ListResult struct {
	XMLName               xml.Name      `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name                  string        `xml:"Name"`
	Prefix                string        `xml:"Prefix"`
	KeyCount              int           `xml:"KeyCount"`
	MaxKeys               int           `xml:"MaxKeys"`
	IsTruncated           bool          `xml:"IsTruncated"`
	ContinuationToken     string        `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string        `xml:"NextContinuationToken,omitempty"`
	Contents              []s3ListEntry `xml:"Contents"`
}

// NewS3Endpoint starts an S3Endpoint holding the given (empty) buckets.
func NewS3Endpoint(t *testing.T, buckets ...string) (*S3Endpoint, *httptest.Server) {
	t.Helper()

	e := &S3Endpoint{pageSize: 1000, buckets: map[string]map[string][]byte{}}
	for _, b := range buckets {
		e.buckets[b] = map[string][]byte{}
	}

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return e, srv
}

// SetPageSize caps the number of keys in one listing page.
func (e *S3Endpoint) SetPageSize(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pageSize = n
}

// Put stores an object directly, bypassing the HTTP API.
func (e *S3Endpoint) Put(bucket string, key string, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buckets[bucket][key] = data
}

// Keys returns the sorted keys of bucket, or nil if it does not exist.
func (e *S3Endpoint) Keys(bucket string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	objects, ok := e.buckets[bucket]
	if !ok {
		return nil
	}
	return sortedKeys(objects)
}

// ListPages returns how many listing pages have been served.
func (e *S3Endpoint) ListPages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listPages
}

func (e *S3Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

	e.mu.Lock()
	defer e.mu.Unlock()

	objects, ok := e.buckets[bucket]
	if key == "" && r.Method == http.MethodPut {
		if !ok {
			e.buckets[bucket] = map[string][]byte{}
		}
		w.WriteHeader(http.StatusOK)
		return
	}
	if !ok {
		writeS3Error(w, r, http.StatusNotFound, "NoSuchBucket")
		return
	}

	if key == "" {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			if r.URL.Query().Has("location") {
				w.Header().Set("Content-Type", "application/xml")
				_, _ = io.WriteString(w, `<LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></LocationConstraint>`)
				return
			}
			e.list(w, r, bucket, objects)
		default:
			writeS3Error(w, r, http.StatusNotImplemented, "NotImplemented")
		}
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := readS3Payload(r)
		if err != nil {
			writeS3Error(w, r, http.StatusBadRequest, "IncompleteBody")
			return
		}
		objects[key] = data
		w.Header().Set("ETag", s3ETag(data))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, ok := objects[key]
		if !ok {
			writeS3Error(w, r, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("ETag", s3ETag(data))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodDelete:
		delete(objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeS3Error(w, r, http.StatusNotImplemented, "NotImplemented")
	}
}

func (e *S3Endpoint) list(w http.ResponseWriter, r *http.Request, bucket string, objects map[string][]byte) {
	q := r.URL.Query()
	after := q.Get("continuation-token")
	if after == "" {
		after = q.Get("start-after")
	}

	keys := sortedKeys(objects)
	start := sort.SearchStrings(keys, after)
	if start < len(keys) && keys[start] == after {
		start++
	}
	end := min(start+e.pageSize, len(keys))

	result := s3ListResult{
		Name:              bucket,
		MaxKeys:           e.pageSize,
		ContinuationToken: q.Get("continuation-token"),
		IsTruncated:       end < len(keys),
	}
	modified := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	for _, k := range keys[start:end] {
		result.Contents = append(result.Contents, s3ListEntry{
			Key:          k,
			LastModified: modified,
			ETag:         s3ETag(objects[k]),
			Size:         len(objects[k]),
			StorageClass: "STANDARD",
		})
	}
	result.KeyCount = len(result.Contents)
	if result.IsTruncated {
		result.NextContinuationToken = keys[end-1]
	}
	e.listPages++

	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(result)
}

func writeS3Error(w http.ResponseWriter, r *http.Request, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_ = xml.NewEncoder(w).Encode(s3Error{Code: code, Message: code, Resource: r.URL.Path})
}

// readS3Payload returns the object bytes of a PUT, decoding the aws-chunked
// framing SigV4 streaming uploads use: <size-hex>[;ext]\r\n<data>\r\n ...
// ending with a zero-size chunk and optional trailers.
func readS3Payload(r *http.Request) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
		return io.ReadAll(r.Body)
	}

	br := bufio.NewReader(r.Body)
	var buf bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		sizeHex, _, _ := strings.Cut(line, ";")
		size, err := strconv.ParseInt(strings.TrimSpace(sizeHex), 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return buf.Bytes(), nil
		}
		if _, err := io.CopyN(&buf, br, size); err != nil {
			return nil, err
		}
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

func s3ETag(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func sortedKeys(objects map[string][]byte) []string {
	keys := make([]string, 0, len(objects))
	for k := range objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
