package mwclient

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/antonholmquist/jason"
)

// APIError represents a generic API error described by an error code
// and a string containing information about the error.
type APIError struct {
	Code, Info string
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Info)
}

// APIWarnings represents a collection of API warnings.
type APIWarnings []APIWarning

func (w APIWarnings) Error() string {
	msgs := make([]string, len(w))
	for i, warn := range w {
		msgs[i] = warn.Error()
	}
	return fmt.Sprintf("%d API warning(s): %s", len(w), strings.Join(msgs, "; "))
}

// APIWarning represents a generic API warning described by the name of
// the module from which the warning originates and a string containing
// information about the warning.
type APIWarning struct {
	Module, Info string
}

func (w APIWarning) Error() string {
	return fmt.Sprintf("%s: %s", w.Module, w.Info)
}

// IsWarnings reports whether err consists only of API warnings, which
// callers usually log and otherwise ignore.
func IsWarnings(err error) bool {
	var warnings APIWarnings
	if !errors.As(err, &warnings) {
		return false
	}
	var apiErr APIError
	return !errors.As(err, &apiErr)
}

// CaptchaError represents the error returned by the API when it
// requires the client to solve a CAPTCHA to perform the action
// requested.
type CaptchaError struct {
	Type     string `json:"type"`
	Mime     string `json:"mime"`
	ID       string `json:"id"`
	URL      string `json:"url"`
	Question string `json:"question"`
}

func (e CaptchaError) Error() string {
	s := fmt.Sprintf("API requires solving a CAPTCHA of type %s (%s) with ID %s", e.Type, e.Mime, e.ID)
	if e.URL != "" {
		s += " at URL " + e.URL
	}
	if e.Question != "" {
		s += ", question: " + e.Question
	}
	return s
}

// maxLagError is returned by the callf closure in the Client.call method
// when there is too much lag on the MediaWiki site. maxLagError contains
// a message from the server and an integer specifying how many seconds
// to wait before trying the request again.
type maxLagError struct {
	Message string
	Wait    int
}

func (e maxLagError) Error() string {
	return e.Message
}

// extractAPIErrors extracts API errors and warnings from a response in
// format version 2. An API error takes priority over warnings; when
// both are present they are joined.
func extractAPIErrors(resp *jason.Object) error {
	var apiErr error
	if errObj, err := resp.GetObject("error"); err == nil {
		code, _ := errObj.GetString("code")
		info, _ := errObj.GetString("info")
		if code == "" {
			return fmt.Errorf("unable to read error code from API response: %s", errObj)
		}
		apiErr = APIError{Code: code, Info: info}
	}

	warnObj, err := resp.GetObject("warnings")
	if err != nil {
		return apiErr
	}

	var warnings APIWarnings
	m := warnObj.Map()
	modules := make([]string, 0, len(m))
	for k := range m {
		modules = append(modules, k)
	}
	sort.Strings(modules)
	for _, module := range modules {
		text := warningText(m[module])
		// There can be multiple warnings in one warning info field.
		// If so, they are separated by a newline.
		for _, line := range strings.Split(text, "\n") {
			if line == "" {
				continue
			}
			warnings = append(warnings, APIWarning{Module: module, Info: line})
		}
	}
	if len(warnings) == 0 {
		return apiErr
	}
	if apiErr != nil {
		return errors.Join(apiErr, warnings)
	}
	return warnings
}

// warningText reads the text of one module's warnings. Format version 2
// uses {"warnings": "..."}; older responses used {"*": "..."}.
func warningText(v *jason.Value) string {
	obj, err := v.Object()
	if err != nil {
		s, _ := v.String()
		return s
	}
	for _, key := range []string{"warnings", "*"} {
		if s, err := obj.GetString(key); err == nil {
			return s
		}
	}
	return ""
}
