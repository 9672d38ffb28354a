package costcollector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedQuerier serves pages in order and records the commands it saw.
type pagedQuerier struct {
	pages []response
	calls []Command
}

func (q *pagedQuerier) Invoke(cmd Command) (Document, error) {
	q.calls = append(q.calls, cmd)
	if len(q.calls) > len(q.pages) {
		return nil, errors.New("pagination requested more pages than exist")
	}
	p := q.pages[len(q.calls)-1]
	return p.doc, p.err
}

func newTestPaginator(t *testing.T, q Querier, maxPages int) *Paginator {
	t.Helper()
	logger := quietLogger()
	p, err := NewPaginator(&PaginatorInput{Querier: q, MaxPages: &maxPages, Logger: &logger})
	require.NoError(t, err)
	return p
}

var describeVolumes = Command{"aws", "--output", "json", "ec2", "describe-volumes"}

func TestPaginateConcatenatesPagesInOrder(t *testing.T) {
	q := &pagedQuerier{pages: []response{
		ok(Document{"Volumes": []interface{}{"a", "b"}, "NextToken": "x"}),
		ok(Document{"Volumes": []interface{}{"c"}}),
	}}

	items, err := newTestPaginator(t, q, 0).Paginate(describeVolumes, "Volumes", "")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b", "c"}, items)
	require.Len(t, q.calls, 2)
	assert.Equal(t, describeVolumes, q.calls[0], "first page must not carry a token")
	assert.Equal(t, describeVolumes.With("--starting-token", "x"), q.calls[1])
}

func TestPaginateEmptyPageWithTokenContinues(t *testing.T) {
	q := &pagedQuerier{pages: []response{
		ok(Document{"Volumes": []interface{}{}, "NextToken": "t1"}),
		ok(Document{"NextToken": "t2"}),
		ok(Document{"Volumes": []interface{}{"v-1"}, "NextToken": ""}),
	}}

	items, err := newTestPaginator(t, q, 0).Paginate(describeVolumes, "Volumes", "")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"v-1"}, items)
	assert.Len(t, q.calls, 3)
	assert.Equal(t, "t2", q.calls[2][len(q.calls[2])-1])
}

func TestPaginateSinglePageWithoutToken(t *testing.T) {
	q := &pagedQuerier{pages: []response{
		ok(Document{"Volumes": []interface{}{"only"}, "NextToken": nil}),
	}}

	items, err := Paginate(q, describeVolumes, "Volumes")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"only"}, items)
	assert.Len(t, q.calls, 1)
}

func TestPaginateNPagesNInvocations(t *testing.T) {
	tokens := []string{"a", "b", "c", "d", ""}
	var pages []response
	var want []interface{}
	for i, tok := range tokens {
		item := map[string]interface{}{"n": float64(i)}
		want = append(want, item)
		doc := Document{"Items": []interface{}{item}}
		if tok != "" {
			doc["Marker"] = tok
		}
		pages = append(pages, ok(doc))
	}
	q := &pagedQuerier{pages: pages}

	items, err := newTestPaginator(t, q, 0).Paginate(describeVolumes, "Items", "Marker")
	require.NoError(t, err)
	assert.Equal(t, want, items)
	assert.Len(t, q.calls, len(tokens))
	for i := 1; i < len(q.calls); i++ {
		assert.Equal(t, tokens[i-1], q.calls[i][len(q.calls[i])-1])
	}
}

func TestPaginateMissingOrWrongShapeIsEmptyPage(t *testing.T) {
	q := &pagedQuerier{pages: []response{
		ok(Document{"Volumes": "not-a-list", "NextToken": "x"}),
		ok(Document{"Volumes": map[string]interface{}{"a": 1.0}, "NextToken": "y"}),
		ok(Document{}),
	}}

	items, err := newTestPaginator(t, q, 0).Paginate(describeVolumes, "Volumes", "")
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.Len(t, q.calls, 3)
}

func TestPaginateNonStringTokenStops(t *testing.T) {
	q := &pagedQuerier{pages: []response{
		ok(Document{"Volumes": []interface{}{"a"}, "NextToken": 42.0}),
	}}
	items, err := newTestPaginator(t, q, 0).Paginate(describeVolumes, "Volumes", "")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a"}, items)
	assert.Len(t, q.calls, 1)
}

func TestPaginatePropagatesErrorsUnchanged(t *testing.T) {
	execErr := &ExecutionError{Command: describeVolumes.With("--starting-token", "x"), ExitStatus: 255, Stderr: "Throttling"}
	malformed := &MalformedOutputError{Command: describeVolumes, Output: "<html>", Err: errNotObject}

	for _, hard := range []error{execErr, malformed} {
		q := &pagedQuerier{pages: []response{
			ok(Document{"Volumes": []interface{}{"a"}, "NextToken": "x"}),
			fail(hard),
			ok(Document{"Volumes": []interface{}{"never"}}),
		}}
		items, err := newTestPaginator(t, q, 0).Paginate(describeVolumes, "Volumes", "")
		assert.Nil(t, items)
		assert.Same(t, hard, err)
		assert.Len(t, q.calls, 2, "no pages after a failure")
	}
}

func TestPaginateCustomTokenFlag(t *testing.T) {
	q := &pagedQuerier{pages: []response{
		ok(Document{"instanceRecommendations": []interface{}{"r1"}, "nextToken": "n1"}),
		ok(Document{"instanceRecommendations": []interface{}{"r2"}}),
	}}
	flag := "--next-token"
	logger := quietLogger()
	p, err := NewPaginator(&PaginatorInput{Querier: q, TokenFlag: &flag, Logger: &logger})
	require.NoError(t, err)

	items, err := p.Paginate(describeVolumes, "instanceRecommendations", "nextToken")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"r1", "r2"}, items)
	assert.Equal(t, describeVolumes.With("--next-token", "n1"), q.calls[1])
}

func TestPaginatePageLimit(t *testing.T) {
	q := &pagedQuerier{pages: []response{
		ok(Document{"Volumes": []interface{}{"a"}, "NextToken": "same"}),
		ok(Document{"Volumes": []interface{}{"b"}, "NextToken": "same"}),
		ok(Document{"Volumes": []interface{}{"c"}, "NextToken": "same"}),
	}}

	items, err := newTestPaginator(t, q, 2).Paginate(describeVolumes, "Volumes", "")
	assert.True(t, errors.Is(err, ErrPageLimit))
	assert.Equal(t, []interface{}{"a", "b"}, items)
	assert.Len(t, q.calls, 2)
}

func TestNewPaginatorRequiresQuerier(t *testing.T) {
	_, err := NewPaginator(&PaginatorInput{})
	assert.Error(t, err)
	_, err = NewPaginator(nil)
	assert.Error(t, err)
}

func TestPaginateThroughInvoker(t *testing.T) {
	inv := fakeToolInvoker(t, map[string]string{"FAKE_STDOUT": `{"Snapshots":[{"SnapshotId":"snap-1"}]}`})
	items, err := Paginate(inv, inv.Base("ec2", "describe-snapshots"), "Snapshots")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "snap-1", stringAt(items[0], "SnapshotId"))
}
