package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultStyles_RenderText(t *testing.T) {
	// Given: default styles
	styles := DefaultStyles()

	// When: rendering through each style
	// Then: the text survives styling
	assert.Contains(t, styles.Header.Render("Test"), "Test")
	assert.Contains(t, styles.Success.Render("ok"), "ok")
	assert.Contains(t, styles.Warning.Render("warn"), "warn")
	assert.Contains(t, styles.Error.Render("bad"), "bad")
	assert.Contains(t, styles.Active.Render("●"), "●")
	assert.Contains(t, styles.Dim.Render("○"), "○")
}

func TestNoColorStyles_RenderPlain(t *testing.T) {
	// Given: the no-color set
	styles := NoColorStyles()

	// Then: rendering is the identity
	assert.Equal(t, "test", styles.Header.Render("test"))
	assert.Equal(t, "test", styles.Success.Render("test"))
	assert.Equal(t, "test", styles.Sparkline.Render("test"))
	assert.Equal(t, "test", styles.Label.Render("test"))
}

func TestGetStyles_WithNoColor(t *testing.T) {
	// When: asking for no-color styles
	styles := GetStyles(true)

	// Then: rendering adds nothing
	assert.Equal(t, "test", styles.Success.Render("test"))
}

func TestGetStyles_WithColor(t *testing.T) {
	// When: asking for colored styles
	styles := GetStyles(false)

	// Then: the text is still present whatever the terminal profile
	assert.Contains(t, styles.Success.Render("test"), "test")
}
