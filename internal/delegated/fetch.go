package delegated

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// FetchRequest describes an outbound HTTP call whose URL, headers, and
// body may contain the {{secret}} placeholder.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// FetchResponse is the result of a delegated fetch. It never carries the
// secret value that was substituted into the request.
type FetchResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Fetch substitutes secretVal into req's templated fields, issues the
// request through client, and returns the response unchanged. Network
// transport and TLS are entirely the underlying client's concern; Fetch's
// only contract is that secretVal never appears in the returned value.
func Fetch(ctx context.Context, client *http.Client, req FetchRequest, secretVal string) (FetchResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	url := Substitute(req.URL, secretVal)
	body := Substitute(req.Body, secretVal)
	headers := SubstituteMap(req.Headers, secretVal)

	httpReq, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
	if err != nil {
		return FetchResponse{}, err
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return FetchResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResponse{}, err
	}

	return FetchResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}
