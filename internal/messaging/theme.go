package messaging

import (
	"sort"
	"strings"
)

// Style element ids the preview injects theme CSS into.
const (
	ThemeTokensStyleID = "theme-tokens"
	ThemeVarsStyleID   = "design-theme-vars"
)

// ThemeTokensCSS renders UPDATE_THEME_TOKENS styles as a :root block with
// keys sorted.
func ThemeTokensCSS(styles map[string]string) string {
	keys := make([]string, 0, len(styles))
	for k := range styles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(":root {\n")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("  " + k + ": " + styles[k] + ";")
	}
	sb.WriteString("\n}")
	return sb.String()
}

// ThemeVarsCSS renders THEME_VARS as a light :root block followed by a
// [data-theme="dark"] block. Empty groups are omitted.
func ThemeVarsCSS(vars []ThemeVar) string {
	var light, dark []ThemeVar
	for _, v := range vars {
		if v.IsDark {
			dark = append(dark, v)
		} else {
			light = append(light, v)
		}
	}

	var sb strings.Builder
	writeBlock := func(selector string, group []ThemeVar) {
		sb.WriteString(selector + " {\n")
		for _, v := range group {
			sb.WriteString("  " + v.CSSVar + ": " + v.Value + ";\n")
		}
		sb.WriteString("}\n")
	}
	if len(light) > 0 {
		writeBlock(":root", light)
	}
	if len(dark) > 0 {
		sb.WriteString("\n")
		writeBlock(`[data-theme="dark"]`, dark)
	}
	return sb.String()
}
