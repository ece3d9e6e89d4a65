package cdp

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
)

func TestFormatRemoteObject(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		obj  *runtime.RemoteObject
		want string
	}{
		"nil":            {nil, ""},
		"string value":   {&runtime.RemoteObject{Type: "string", Value: easyjson.RawMessage(`"hi"`)}, "hi"},
		"number value":   {&runtime.RemoteObject{Type: "number", Value: easyjson.RawMessage(`42`)}, "42"},
		"bool value":     {&runtime.RemoteObject{Type: "boolean", Value: easyjson.RawMessage(`true`)}, "true"},
		"unserializable": {&runtime.RemoteObject{Type: "number", UnserializableValue: "NaN"}, "NaN"},
		"description":    {&runtime.RemoteObject{Type: "object", Description: "Array(3)"}, "Array(3)"},
		"class name":     {&runtime.RemoteObject{Type: "object", ClassName: "HTMLDivElement"}, "HTMLDivElement"},
		"bare type":      {&runtime.RemoteObject{Type: "undefined"}, "undefined"},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FormatRemoteObject(tt.obj))
		})
	}
}

func TestExceptionText(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ExceptionText(nil))
	assert.Equal(t, "Uncaught", ExceptionText(&runtime.ExceptionDetails{Text: "Uncaught"}))
	assert.Equal(t, "TypeError: boom", ExceptionText(&runtime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &runtime.RemoteObject{Description: "TypeError: boom"},
	}))
}

func TestNormalizeTimestamp(t *testing.T) {
	t.Parallel()

	assert.True(t, NormalizeTimestamp(0).IsZero())
	assert.True(t, NormalizeTimestamp(-5).IsZero())

	seconds := NormalizeTimestamp(1700000000)
	millis := NormalizeTimestamp(1700000000000)
	assert.Equal(t, seconds.Unix(), millis.Unix())
	assert.Equal(t, int64(1700000000), seconds.Unix())
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "2.00 KB", formatBytes(2048))
	assert.Equal(t, "1.50 MB", formatBytes(1.5*1024*1024))
	assert.Equal(t, "3.00 GB", formatBytes(3*1024*1024*1024))
}

func TestAttributePairs(t *testing.T) {
	t.Parallel()

	assert.Nil(t, attributePairs(nil))
	assert.Nil(t, attributePairs([]string{"lonely"}))
	assert.Equal(t,
		map[string]string{"id": "main", "class": "wrap"},
		attributePairs([]string{"id", "main", "class", "wrap"}),
	)
	assert.Equal(t,
		map[string]string{"id": "main"},
		attributePairs([]string{"id", "main", "dangling"}),
	)
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", hostOf("https://example.com/path?q=1"))
	assert.Equal(t, "example.com:8080", hostOf("http://example.com:8080/"))
	assert.Empty(t, hostOf("::not-a-url::"))
}

func TestRuntimeTime(t *testing.T) {
	t.Parallel()

	ts := runtime.Timestamp(time.Unix(1700000000, 0))
	assert.Equal(t, int64(1700000000), runtimeTime(&ts).Unix())
	assert.WithinDuration(t, time.Now(), runtimeTime(nil), time.Minute)
}
