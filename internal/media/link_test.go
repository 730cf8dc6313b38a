package media

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestControlLinkTagsProviderOnce(t *testing.T) {
	var buf bytes.Buffer
	d := NewDecentralized("ws://127.0.0.1:7400/mesh", slog.New(slog.NewJSONHandler(&buf, nil)))
	d.link.log.Info("link ready")

	assert.Equal(t, 1, strings.Count(buf.String(), `"provider":`))
	assert.Contains(t, buf.String(), `"provider":"decentralized"`)
}
