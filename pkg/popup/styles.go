package popup

import "github.com/charmbracelet/lipgloss"

var (
	salmonPink  = lipgloss.Color("#FFB3BA")
	coralPink   = lipgloss.Color("#FFCCCB")
	mintGreen   = lipgloss.Color("#A8E6CF")
	mutedGray   = lipgloss.Color("#6B7280")
	brightWhite = lipgloss.Color("#F9FAFB")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Italic(true)

	rowStyle = lipgloss.NewStyle().
			Foreground(brightWhite)

	selectedStyle = lipgloss.NewStyle().
			Foreground(coralPink).
			Bold(true)

	enteringStyle = lipgloss.NewStyle().
			Foreground(mintGreen)

	leavingStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Strikethrough(true)

	disabledStyle = lipgloss.NewStyle().
			Foreground(mutedGray)

	matchStyle = lipgloss.NewStyle().
			Foreground(mutedGray)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Italic(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(salmonPink).
			Padding(0, 1)
)
