package render

import "github.com/charmbracelet/lipgloss"

// Theme 定义终端输出的色彩和样式
// Theme defines terminal colors and styles
type Theme struct {
	// 基础色 / Base colors
	Primary lipgloss.Color
	Accent  lipgloss.Color
	Danger  lipgloss.Color
	Warning lipgloss.Color
	Success lipgloss.Color
	Muted   lipgloss.Color
	Text    lipgloss.Color

	// 预构建样式 / Pre-built styles
	TitleStyle    lipgloss.Style
	PromptStyle   lipgloss.Style
	ErrorStyle    lipgloss.Style
	WarningStyle  lipgloss.Style
	SuccessStyle  lipgloss.Style
	MutedStyle    lipgloss.Style
	DegradedBadge lipgloss.Style
	TodoDoneStyle lipgloss.Style
}

// DarkTheme 暗色主题（默认）
// DarkTheme is the default dark theme
func DarkTheme() Theme {
	t := Theme{
		Primary: lipgloss.Color("#7C3AED"),
		Accent:  lipgloss.Color("#06B6D4"),
		Danger:  lipgloss.Color("#EF4444"),
		Warning: lipgloss.Color("#F59E0B"),
		Success: lipgloss.Color("#10B981"),
		Muted:   lipgloss.Color("#6B7280"),
		Text:    lipgloss.Color("#E5E7EB"),
	}

	t.TitleStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.PromptStyle = lipgloss.NewStyle().
		Foreground(t.Accent).
		Bold(true)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	t.WarningStyle = lipgloss.NewStyle().
		Foreground(t.Warning)

	t.SuccessStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.MutedStyle = lipgloss.NewStyle().
		Foreground(t.Muted)

	t.DegradedBadge = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#000000")).
		Background(t.Warning).
		Bold(true).
		Padding(0, 1)

	t.TodoDoneStyle = lipgloss.NewStyle().
		Foreground(t.Muted).
		Strikethrough(true)

	return t
}
