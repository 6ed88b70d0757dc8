// File: internal/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

var brotliReaderPool = sync.Pool{
	New: func() interface{} { return brotli.NewReader(nil) },
}

// acceptEncoding is what a current Chrome advertises.
const acceptEncoding = "gzip, deflate, br"

// CompressionMiddleware advertises gzip, deflate and brotli on outgoing
// requests and decodes the response body according to Content-Encoding.
type CompressionMiddleware struct {
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps transport. A nil transport means http.DefaultTransport.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := DecompressResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// CloseIdleConnections forwards to the wrapped transport.
func (cm *CompressionMiddleware) CloseIdleConnections() {
	closeIdle(cm.Transport)
}

// layeredBody closes the decoder and then the body it was reading from.
type layeredBody struct {
	io.ReadCloser
	inner   io.ReadCloser
	release func()
}

func (b *layeredBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return errors.Join(b.ReadCloser.Close(), b.inner.Close())
}

// DecompressResponse replaces resp.Body with a decoding reader for every
// Content-Encoding layer, outermost first. On error the body may be partially
// consumed and the response should be discarded.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		for _, layer := range splitEncodings(encodings[i]) {
			var (
				reader  io.ReadCloser
				release func()
			)
			switch layer {
			case "gzip", "x-gzip":
				zr, err := gzip.NewReader(resp.Body)
				if err != nil {
					return fmt.Errorf("gzip initialization error: %w", err)
				}
				reader = zr
			case "deflate":
				reader = newDeflateReader(resp.Body)
			case "br":
				br := brotliReaderPool.Get().(*brotli.Reader)
				if err := br.Reset(resp.Body); err != nil {
					brotliReaderPool.Put(br)
					return fmt.Errorf("brotli initialization error: %w", err)
				}
				reader = io.NopCloser(br)
				release = func() {
					_ = br.Reset(strings.NewReader(""))
					brotliReaderPool.Put(br)
				}
			case "identity", "":
				continue
			default:
				return fmt.Errorf("unsupported Content-Encoding layer: %s", layer)
			}
			resp.Body = &layeredBody{ReadCloser: reader, inner: resp.Body, release: release}
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// splitEncodings handles "gzip, br" in a single header value, returned in
// decode order.
func splitEncodings(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		out = append(out, strings.ToLower(strings.TrimSpace(parts[i])))
	}
	return out
}

// newDeflateReader reads zlib-wrapped deflate, falling back to raw deflate
// when the zlib header is missing, as some servers send.
func newDeflateReader(r io.Reader) io.ReadCloser {
	rec := &recordingReader{r: r, recording: true}
	zr, err := zlib.NewReader(rec)
	if err == nil {
		rec.recording = false
		rec.head.Reset()
		return zr
	}
	return flate.NewReader(io.MultiReader(bytes.NewReader(rec.head.Bytes()), r))
}

// recordingReader keeps a copy of what was read while recording is on.
type recordingReader struct {
	r         io.Reader
	head      bytes.Buffer
	recording bool
}

func (rr *recordingReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if rr.recording && n > 0 {
		rr.head.Write(p[:n])
	}
	return n, err
}
