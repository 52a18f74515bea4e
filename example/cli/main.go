package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/tomyedwab/rqlite-go/rqlite"
)

func connect() (*rqlite.Connection, error) {
	host := flag.String("host", "localhost", "cluster node host")
	port := flag.Int("port", rqlite.DefaultPort, "cluster node port")
	user := flag.String("user", "", "basic auth user")
	password := flag.String("password", "", "basic auth password")
	https := flag.Bool("https", false, "connect over https")
	detect := flag.Bool("detect", false, "enable declared-type and column-name detection")
	flag.Parse()

	options := []rqlite.Option{rqlite.WithPort(*port)}
	if *user != "" {
		options = append(options, rqlite.WithBasicAuth(*user, *password))
	}
	if *https {
		options = append(options, rqlite.WithHTTPS())
	}
	if *detect {
		options = append(options, rqlite.WithDetectTypes(rqlite.ParseDeclTypes|rqlite.ParseColNames))
	}
	return rqlite.Connect(*host, options...)
}

func renderResults(table *tview.Table, cursor *rqlite.Cursor) {
	table.Clear()
	for col, desc := range cursor.Description {
		table.SetCell(0, col, tview.NewTableCell(desc.Name).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}
	for rowIdx, row := range cursor.FetchAll() {
		for col := 0; col < row.Len(); col++ {
			table.SetCell(rowIdx+1, col,
				tview.NewTableCell(fmt.Sprintf("%v", row.Get(col))))
		}
	}
}

func main() {
	conn, err := connect()
	if err != nil {
		fmt.Println("Error connecting:", err)
		return
	}
	defer conn.Close()

	app := tview.NewApplication()
	table := tview.NewTable().SetBorders(true)
	status := tview.NewTextView().SetTextColor(tcell.ColorGreen)
	input := tview.NewInputField().SetLabel("sql> ").SetFieldWidth(0)

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		sql := strings.TrimSpace(input.GetText())
		if sql == "" {
			return
		}
		cursor := conn.Cursor()
		if err := cursor.Execute(sql); err != nil {
			status.SetTextColor(tcell.ColorRed)
			status.SetText(err.Error())
			return
		}
		status.SetTextColor(tcell.ColorGreen)
		status.SetText(fmt.Sprintf("rowcount=%d lastrowid=%d",
			cursor.RowCount, cursor.LastInsertID))
		renderResults(table, cursor)
		input.SetText("")
	})

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(table, 0, 1, false).
		AddItem(status, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			app.Stop()
		}
		return event
	})
	if err := app.SetRoot(flex, true).Run(); err != nil {
		panic(err)
	}
}
