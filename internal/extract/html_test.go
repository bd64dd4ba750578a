package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nextDataPage = `<!DOCTYPE html>
<html><head><title>Image</title></head>
<body>
<div id="__next"></div>
<script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"image":{"id":99,"meta":{"prompt":"castle on a hill at dusk","negativePrompt":"lowres"}}}}}
</script>
</body></html>`

const globalStatePage = `<html><body>
<script>
  window.__INITIAL_STATE__ = {images: [{id: 5, prompt: 'watercolor fox, {soft} light'}, {id: 6, prompt: ''}]};
  window.other = 1;
</script>
</body></html>`

const rawMarkupPage = `<html><body>
<div data-state='{"prompt":"an intricate mechanical owl perched on an old brass telescope","seed":3}'></div>
<div data-state='{"prompt":"too short"}'></div>
</body></html>`

func TestExtractHTML_NextData(t *testing.T) {
	e := newTestExtractor(t)
	recs := e.ExtractHTML([]byte(nextDataPage))

	require.Len(t, recs, 1)
	assert.Equal(t, "99", recs[0].ID)
	assert.Equal(t, "castle on a hill at dusk", recs[0].PromptText)
	assert.Equal(t, "lowres", recs[0].NegativePromptText)
}

func TestExtractHTML_GlobalAssignment(t *testing.T) {
	e := newTestExtractor(t)
	recs := e.ExtractHTML([]byte(globalStatePage))

	require.Len(t, recs, 1)
	assert.Equal(t, "5", recs[0].ID)
	assert.Equal(t, "watercolor fox, {soft} light", recs[0].PromptText)
}

func TestExtractHTML_RawScanFallback(t *testing.T) {
	e := newTestExtractor(t)
	recs := e.ExtractHTML([]byte(rawMarkupPage))

	require.Len(t, recs, 1)
	assert.Equal(t, "an intricate mechanical owl perched on an old brass telescope", recs[0].PromptText)
	assert.Equal(t, []interface{}{recs[0].PromptText}, e.HTMLItems([]byte(rawMarkupPage)))
}

func TestExtractHTML_NothingFound(t *testing.T) {
	e := newTestExtractor(t)
	assert.Empty(t, e.ExtractHTML([]byte(`<html><body><p>Sign in to view</p></body></html>`)))
	assert.Empty(t, e.ExtractHTML(nil))
}

func TestBalancedObject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a": "}"}; rest`, `{"a": "}"}`},
		{`[1, [2]], 3`, `[1, [2]]`},
		{`{'q': '\'}'}`, `{'q': '\'}'}`},
		{`{unterminated`, ``},
		{`42;`, ``},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, balancedObject(tt.in), tt.in)
	}
}
