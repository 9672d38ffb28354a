package costcollector

import (
	"errors"
	"fmt"

	"github.com/inconshreveable/log15"
)

const (
	// DefaultTokenKey is where paginated responses carry their
	// continuation token.
	DefaultTokenKey = "NextToken"

	// DefaultTokenFlag is the flag used to hand the token back to the tool.
	DefaultTokenFlag = "--starting-token"
)

// ErrPageLimit is returned when a Paginator with MaxPages set still has a
// continuation token after its last allowed page.
var ErrPageLimit = errors.New("pagination stopped at page limit")

// Querier is what the pagination engine needs from an Invoker. Anything
// that can turn a Command into a Document will do.
type Querier interface {
	Invoke(cmd Command) (Document, error)
}

// PaginatorInput provides configuration inputs for a new Paginator.
type PaginatorInput struct {
	// Querier runs each page's command.
	//
	// Querier is a required field
	Querier Querier

	// Flag appended with the continuation token on every page but the
	// first.
	// Default: "--starting-token"
	TokenFlag *string

	// Maximum number of pages to request. Zero means no limit and
	// pagination ends only when a page carries no token.
	// Default: 0
	MaxPages *int

	Logger *log15.Logger
}

// Paginator repeatedly issues a templated command with an evolving
// continuation token and concatenates one list field across pages.
type Paginator struct {
	querier   Querier
	tokenFlag string
	maxPages  int
	log       log15.Logger
}

// NewPaginator returns a Paginator with defaults set for anything
// missing from input.
func NewPaginator(input *PaginatorInput) (p *Paginator, err error) {
	var pg Paginator
	if input == nil || input.Querier == nil {
		return &pg, errors.New("Querier is required")
	}
	pg.querier = input.Querier

	DefaultFlag := DefaultTokenFlag
	if input.TokenFlag == nil || *input.TokenFlag == "" {
		input.TokenFlag = &DefaultFlag
	}
	pg.tokenFlag = *input.TokenFlag

	if input.MaxPages != nil && *input.MaxPages > 0 {
		pg.maxPages = *input.MaxPages
	}

	if input.Logger == nil {
		pg.log = defaultLogger(log15.LvlInfo)
	} else {
		pg.log = *input.Logger
	}
	return &pg, err
}

// Paginate runs cmd until a page comes back without a token and returns
// every element of resultKey in page-arrival order. An empty tokenKey
// means "NextToken". A missing or non-list resultKey counts as an empty
// page. Errors from the Querier abort the run and are returned as-is.
func (p *Paginator) Paginate(cmd Command, resultKey, tokenKey string) (items []interface{}, err error) {
	if tokenKey == "" {
		tokenKey = DefaultTokenKey
	}
	items = []interface{}{}
	var token string
	for page := 1; ; page++ {
		if p.maxPages > 0 && page > p.maxPages {
			p.log.Warn("page limit reached with token outstanding", "cmd", cmd.String(), "maxPages", p.maxPages)
			return items, fmt.Errorf("%w (%d pages): %s", ErrPageLimit, p.maxPages, cmd)
		}
		effective := cmd
		if token != "" {
			effective = cmd.With(p.tokenFlag, token)
		}
		doc, err := p.querier.Invoke(effective)
		if err != nil {
			return nil, err
		}
		raw, present := doc[resultKey]
		pageItems, ok := raw.([]interface{})
		if present && raw != nil && !ok {
			p.log.Debug("result key is not a list, treating page as empty", "key", resultKey, "page", page)
		}
		items = append(items, pageItems...)
		p.log.Debug("handling page", "key", resultKey, "page", page, "items", len(pageItems))

		token = p.nextToken(doc[tokenKey], tokenKey)
		if token == "" {
			return items, nil
		}
	}
}

// Paginate is a convenience wrapper using the default token key and flag
// with no page limit.
func Paginate(q Querier, cmd Command, resultKey string) (items []interface{}, err error) {
	p, err := NewPaginator(&PaginatorInput{Querier: q})
	if err != nil {
		return nil, err
	}
	return p.Paginate(cmd, resultKey, DefaultTokenKey)
}

// nextToken returns the continuation token or "" when pagination should
// stop. Absent, null, empty and non-string tokens all stop the loop.
func (p *Paginator) nextToken(v interface{}, tokenKey string) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		p.log.Warn("continuation token is not a string, stopping", "key", tokenKey, "value", fmt.Sprint(t))
		return ""
	}
}
