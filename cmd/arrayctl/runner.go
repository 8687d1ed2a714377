package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/buildkite/shellwords"

	"github.com/crystal-mush/sparsearray/pkg/builtins"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

// evalLine runs one built-in call written as shell words:
//
//	array_find 'names$[2]' "bob" 1
func evalLine(tbl *builtins.Table, ctx vars.Context, line string) (string, error) {
	words, err := shellwords.SplitPosix(line)
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}
	if len(words) == 0 {
		return "", nil
	}
	return tbl.Call(ctx, words[0], words[1:])
}

// runBatch evaluates each line of r and reports to w. Lines may end in
// " | expected" to be checked. Blank lines and '#' comments are skipped.
func runBatch(tbl *builtins.Table, ctx vars.Context, r io.Reader, w io.Writer) (pass, fail int, err error) {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Format: call | expected_result (optional)
		parts := strings.SplitN(line, " | ", 2)
		expression := parts[0]
		result, evalErr := evalLine(tbl, ctx, expression)
		if evalErr != nil {
			result = "#-1 " + evalErr.Error()
		}

		if len(parts) == 2 {
			expected := parts[1]
			status := "PASS"
			if result != expected {
				status = "FAIL"
				fail++
			} else {
				pass++
			}
			fmt.Fprintf(w, "[%s] Line %d: %s\n", status, lineNum, expression)
			if status == "FAIL" {
				fmt.Fprintf(w, "  Expected: %s\n", expected)
				fmt.Fprintf(w, "  Got:      %s\n", result)
			}
		} else {
			fmt.Fprintf(w, "Line %d: %s => %s\n", lineNum, expression, result)
		}
	}
	return pass, fail, scanner.Err()
}

// repl reads calls from r until EOF or "quit".
func repl(tbl *builtins.Table, ctx vars.Context, r io.Reader, w io.Writer) {
	fmt.Fprintln(w, "Sparse array built-in harness")
	fmt.Fprintf(w, "Context: char=%d account=%d npc=%d script=%d instance=%d\n",
		ctx.Char, ctx.Account, ctx.NPC, ctx.Script, ctx.Instance)
	fmt.Fprintln(w, "Type built-in calls, e.g. setarray .@l 1 2 3. \"help\" lists them.")
	fmt.Fprintln(w)

	scanner := bufio.NewScanner(r)
	for {
		fmt.Fprint(w, "array> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit", "exit":
			return
		case "help":
			fmt.Fprintln(w, strings.Join(tbl.Names(), " "))
			continue
		}
		result, err := evalLine(tbl, ctx, line)
		if err != nil {
			fmt.Fprintf(w, "#-1 %v\n", err)
			continue
		}
		fmt.Fprintln(w, result)
	}
}
