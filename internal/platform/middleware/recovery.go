package middleware

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	soapPathPrefix  = "/SOAP/"
	soapContentType = "application/soap+xml; charset=utf-8"
)

// soapFault is a SOAP 1.2 Receiver fault envelope.
type soapFault struct {
	XMLName xml.Name `xml:"s:Envelope"`
	XmlnsS  string   `xml:"xmlns:s,attr"`
	Fault   struct {
		Code   string `xml:"s:Code>s:Value"`
		Reason struct {
			Lang string `xml:"xml:lang,attr"`
			Text string `xml:",chardata"`
		} `xml:"s:Reason>s:Text"`
		RequestID string `xml:"s:Detail>RequestID,omitempty"`
	} `xml:"s:Body>s:Fault"`
}

// Recovery turns a handler panic into a 500 and logs the stack. SOAP
// callers get a Receiver fault envelope instead of the JSON error body.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)
				path := c.Request().URL.Path
				rid := requestID(c)

				logger.Error().
					Str("request_id", rid).
					Str("path", path).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(stack[:n])).
					Msg("panic recovered")

				if strings.HasPrefix(path, soapPathPrefix) && !c.Response().Committed {
					err = writeSOAPFault(c, rid)
					return
				}
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}

func writeSOAPFault(c echo.Context, rid string) error {
	f := soapFault{XmlnsS: "http://www.w3.org/2003/05/soap-envelope"}
	f.Fault.Code = "s:Receiver"
	f.Fault.Reason.Lang = "en"
	f.Fault.Reason.Text = "internal server error"
	f.Fault.RequestID = rid

	body, err := xml.Marshal(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.Blob(http.StatusInternalServerError, soapContentType, append([]byte(xml.Header), body...))
}
