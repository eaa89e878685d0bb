package main

import (
	"fmt"
	"strings"
)

var descriptions = map[string]string{
	"invoke": "invoke <op>             submit a PBFT request, printing the f+1-matched reply",
	"get":    "get <key>               read a COPS key through this session's client",
	"put":    "put <key> <value>       write a COPS key through this session's client",
	"status": "status                  print replica/client wiring for this session",
	"help":   "help                    print this message",
	"exit":   "exit                    quit replctl",
}

func Usage() string {
	lines := make([]string, 0, len(descriptions))
	for _, k := range []string{"invoke", "get", "put", "status", "help", "exit"} {
		lines = append(lines, "\t"+descriptions[k])
	}
	return strings.Join(lines, "\n") + "\n"
}

func unknownCommand(name string) string {
	return fmt.Sprintf("unknown command %q, use help to see available commands", name)
}
