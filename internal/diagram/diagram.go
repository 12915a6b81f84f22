// Package diagram renders a graph as a PlantUML component diagram.
package diagram

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"

	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/task"
)

// DefaultServer renders encoded diagrams as PNG.
const DefaultServer = "http://www.plantuml.com/plantuml/png/"

const pumlAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

var pumlEncoding = base64.NewEncoding(pumlAlphabet)

// PlantUML returns one component per node and one arrow per dependency,
// labelled with the data keys the dependency declares as output and the
// dependent declares as input.
func PlantUML(nodes []*scheduler.GraphTask) string {
	var b strings.Builder
	b.WriteString("@startuml\n")
	for _, n := range nodes {
		fmt.Fprintf(&b, "[%s]\n", n.Name())
	}
	for _, n := range nodes {
		inputs := task.InputKeys(n.Task())
		for _, d := range n.Dependencies() {
			var shared []string
			for _, k := range task.OutputKeys(d.Task()) {
				if slices.Contains(inputs, k) && !slices.Contains(shared, k) {
					shared = append(shared, k)
				}
			}
			slices.Sort(shared)

			fmt.Fprintf(&b, "[%s] --> [%s]", d.Name(), n.Name())
			if len(shared) > 0 {
				fmt.Fprintf(&b, " : %s", strings.Join(shared, ","))
			}
			b.WriteByte('\n')
		}
	}
	b.WriteString("@enduml\n")
	return b.String()
}

// Encode produces the text encoding PlantUML servers accept in URLs:
// raw deflate followed by base64 over PlantUML's alphabet.
func Encode(uml string) (string, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write([]byte(uml)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return pumlEncoding.EncodeToString(buf.Bytes()), nil
}

// URL returns the address at which server renders the graph. An empty
// server means DefaultServer.
func URL(nodes []*scheduler.GraphTask, server string) (string, error) {
	if server == "" {
		server = DefaultServer
	}
	enc, err := Encode(PlantUML(nodes))
	if err != nil {
		return "", fmt.Errorf("encoding diagram: %w", err)
	}
	return server + enc, nil
}
