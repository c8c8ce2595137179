package ui

import "github.com/charmbracelet/lipgloss"

// Colors used in the application.
var (
	colorPrimary   = lipgloss.Color("62")  // Purple
	colorSecondary = lipgloss.Color("241") // Gray
	colorMuted     = lipgloss.Color("240") // Darker gray
	colorHighlight = lipgloss.Color("212") // Pink
	colorSuccess   = lipgloss.Color("78")  // Green
	colorWarning   = lipgloss.Color("214") // Amber
	colorError     = lipgloss.Color("196") // Red
)

// ActiveTab style for the selected tab label.
var ActiveTab = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(colorPrimary).
	Padding(0, 2)

// InactiveTab style for the other tab labels.
var InactiveTab = lipgloss.NewStyle().
	Foreground(colorSecondary).
	Padding(0, 2)

// SelectedItem style for the highlighted file row.
var SelectedItem = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(colorPrimary).
	Padding(0, 1)

// NormalItem style for other file rows.
var NormalItem = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Padding(0, 1)

// MutedText for sizes, hints and empty states.
var MutedText = lipgloss.NewStyle().
	Foreground(colorMuted)

// SectionHeader style for headings inside a tab.
var SectionHeader = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorHighlight).
	MarginBottom(1).
	Padding(0, 1)

// Pipeline step styles, one per step state.
var (
	StepWaitingStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	StepActiveStyle    = lipgloss.NewStyle().Foreground(colorHighlight).Bold(true)
	StepCompletedStyle = lipgloss.NewStyle().Foreground(colorSuccess)
)

// SuccessStyle for the upload success line and healthy checks.
var SuccessStyle = lipgloss.NewStyle().
	Foreground(colorSuccess).
	Bold(true)

// NoticeStyle for standing notices (skipped files, failures).
var NoticeStyle = lipgloss.NewStyle().
	Foreground(colorWarning).
	Padding(0, 1)

// StatusBar style for the bottom status bar.
var StatusBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("236")).
	Padding(0, 1)

// StatusBarKey style for key hints in status bar.
var StatusBarKey = lipgloss.NewStyle().
	Foreground(colorHighlight).
	Bold(true)

// StatusBarText style for descriptive text in status bar.
var StatusBarText = lipgloss.NewStyle().
	Foreground(colorSecondary)

// ErrorStyle for displaying errors.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(colorError).
	Bold(true).
	Padding(0, 1)

// InputBar style for the path prompt.
var InputBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("240")).
	Padding(0, 1)

// StatCard style for dashboard counters.
var StatCard = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorPrimary).
	Padding(0, 2).
	MarginRight(1)

// DebugPanel frames the debug overlay.
var DebugPanel = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorMuted).
	Padding(1, 2)

// DebugHeaderStyle for section headings in the debug overlay.
var DebugHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorHighlight)
