package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"token-tally/internal/counter"
)

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show the rolling 15-minute token counts",
	Args:  cobra.NoArgs,
	RunE:  runCounts,
}

// One color per token number, matching the original display.
var digitColors = [10]string{
	"#dc2626", // 0 red
	"#2563eb", // 1 blue
	"#16a34a", // 2 green
	"#ca8a04", // 3 yellow
	"#9333ea", // 4 purple
	"#db2777", // 5 pink
	"#ea580c", // 6 orange
	"#0d9488", // 7 teal
	"#4f46e5", // 8 indigo
	"#0891b2", // 9 cyan
}

var cellBorder = lipgloss.RoundedBorder()

// renderBoard draws the ten counter cells side by side.
func renderBoard(counts map[int]int) string {
	cells := make([]string, 10)
	for i := 0; i < 10; i++ {
		style := lipgloss.NewStyle().
			Border(cellBorder).
			BorderForeground(lipgloss.Color(digitColors[i])).
			Padding(0, 1).
			Align(lipgloss.Center)
		label := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d", i))
		count := lipgloss.NewStyle().
			Foreground(lipgloss.Color(digitColors[i])).
			Bold(true).
			Render(fmt.Sprintf("%d", counts[i]))
		cells[i] = style.Render(label + "\n" + count)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

func runCounts(cmd *cobra.Command, args []string) error {
	s := loadSetup()
	counts := counter.Compute(s.ledger.Entries(), time.Now().In(s.loc))
	fmt.Println("Rolling 15-minute counts:")
	fmt.Println(renderBoard(counts))
	return nil
}
