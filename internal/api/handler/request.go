package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kiranshivaraju/threadpost/pkg/models"
)

const maxBodyBytes = 1 << 20

var (
	errInvalidJSON = errors.New("request body must be a JSON object")

	legacyPostKey = regexp.MustCompile(`^tweet(\d+)$`)

	validate = newValidator()
)

// threadOptions holds the optional fields of a thread request. Texts are
// decoded separately because they may arrive in the legacy flattened form.
type threadOptions struct {
	DelayMS   *int64 `json:"delay_ms"    validate:"omitempty,min=0"`
	ReplyToID string `json:"reply_to_id" validate:"omitempty,numeric,max=32"`
}

// fieldError is a request field that failed decoding or validation.
type fieldError struct {
	Field   string
	Message string
}

func (e *fieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeThreadRequest reads a thread request body. The canonical form is
// {"texts": [...]}; the flattened form {tweet1..tweetN, closingTweet} is
// accepted and normalized to the same sequence. texts wins when both are
// present. maxDelay bounds delay_ms.
func decodeThreadRequest(r *http.Request, maxDelay time.Duration) (models.ThreadRequest, error) {
	var req models.ThreadRequest

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, err
		}
		return req, errInvalidJSON
	}
	if raw == nil {
		return req, errInvalidJSON
	}

	texts, err := decodeTexts(raw)
	if err != nil {
		return req, err
	}
	req.Texts = texts

	var opts threadOptions
	if v, ok := raw["delay_ms"]; ok {
		if err := json.Unmarshal(v, &opts.DelayMS); err != nil {
			return req, &fieldError{Field: "delay_ms", Message: "must be an integer number of milliseconds"}
		}
	}
	if v, ok := raw["reply_to_id"]; ok {
		if err := json.Unmarshal(v, &opts.ReplyToID); err != nil {
			return req, &fieldError{Field: "reply_to_id", Message: "must be a string"}
		}
	}
	if err := validate.Struct(opts); err != nil {
		return req, firstFieldError(err)
	}

	if opts.DelayMS != nil {
		// Compare in milliseconds; converting first can overflow.
		if *opts.DelayMS > maxDelay.Milliseconds() {
			return req, &fieldError{
				Field:   "delay_ms",
				Message: fmt.Sprintf("must not exceed %d", maxDelay.Milliseconds()),
			}
		}
		d := time.Duration(*opts.DelayMS) * time.Millisecond
		req.Delay = &d
	}
	req.ReplyToID = opts.ReplyToID

	return req, nil
}

func decodeTexts(raw map[string]json.RawMessage) ([]string, error) {
	if v, ok := raw["texts"]; ok {
		var texts []string
		if err := json.Unmarshal(v, &texts); err != nil {
			return nil, &fieldError{Field: "texts", Message: "must be an array of strings"}
		}
		return texts, nil
	}

	type numbered struct {
		n    int
		text string
	}
	var posts []numbered
	seen := make(map[int]string)
	for k, v := range raw {
		m := legacyPostKey.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, &fieldError{Field: k, Message: "post number out of range"}
		}
		if prev, dup := seen[n]; dup {
			first, second := prev, k
			if second < first {
				first, second = second, first
			}
			return nil, &fieldError{Field: second, Message: "duplicates post number of " + first}
		}
		seen[n] = k
		var text string
		if err := json.Unmarshal(v, &text); err != nil {
			return nil, &fieldError{Field: k, Message: "must be a string"}
		}
		posts = append(posts, numbered{n: n, text: text})
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].n < posts[j].n })

	texts := make([]string, 0, len(posts)+1)
	for _, p := range posts {
		texts = append(texts, p.text)
	}

	if v, ok := raw["closingTweet"]; ok {
		var text string
		if err := json.Unmarshal(v, &text); err != nil {
			return nil, &fieldError{Field: "closingTweet", Message: "must be a string"}
		}
		texts = append(texts, text)
	}

	return texts, nil
}

func firstFieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &fieldError{Field: fe.Field(), Message: validationMessage(fe)}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "numeric":
		return "must contain only digits"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
