package common

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPClient is used by connectors constructed without one.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Do sends req and reads the whole body. Transport failures are classified;
// HTTP status handling is left to the caller since venues wrap their error
// codes differently.
func Do(client *http.Client, exchange string, req *http.Request) (Response, error) {
	res, err := client.Do(req)
	if err != nil {
		return Response{}, Transport(exchange, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, Transport(exchange, err)
	}
	return Response{Status: res.StatusCode, Header: res.Header, Body: body}, nil
}

// StatusError classifies a non-2xx response that carried no venue error code.
func StatusError(exchange string, res Response) error {
	class := ClassExchange
	switch {
	case res.Status == http.StatusUnauthorized:
		class = ClassAuthentication
	case res.Status == http.StatusForbidden:
		class = ClassPermissionDenied
	case res.Status == http.StatusTooManyRequests || res.Status == 418:
		class = ClassRateLimit
	case res.Status == http.StatusRequestTimeout || res.Status == http.StatusGatewayTimeout:
		class = ClassRequestTimeout
	case res.Status >= 500:
		class = ClassNetwork
	}
	msg := strings.TrimSpace(string(res.Body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return &BrokerError{Exchange: exchange, Class: class, Code: strconv.Itoa(res.Status), Message: msg}
}
