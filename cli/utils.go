package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow, color.Bold)
)

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// infof prints a green message.
func infof(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	okColor.Fprintf(w, format+"\n", a...)
}

// warningf prints a yellow message prefixed with "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	warnColor.Fprint(w, "Warning: ")
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

func newTable(w io.Writer, header ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func parseOnOff(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "1", "true", "enable":
		return true, nil
	case "off", "0", "false", "disable":
		return false, nil
	}
	return false, errors.Errorf("expected on or off, got %q", arg)
}

func parsePercent(arg string) (int, error) {
	percent, err := strconv.Atoi(strings.TrimSuffix(arg, "%"))
	if err != nil {
		return 0, errors.Errorf("expected a percentage, got %q", arg)
	}
	return percent, nil
}
