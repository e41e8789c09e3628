package offload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/flows/pkg/flow"
)

// RunFunc runs the named process with its input inside a worker.
type RunFunc func(ctx context.Context, name string, in flow.IO) (flow.IO, error)

// ServeWorker handles a single spawn line: it reads it from stdin, changes to the root
// directory, runs the named process and writes its output followed by the terminator
// to stdout. Failures are written to stderr, followed by the terminator when it is known,
// and returned.
func ServeWorker(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, run RunFunc) error {
	raw, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && raw != "") {
		fmt.Fprintf(stderr, "read spawn line: %v\n", err)
		return fmt.Errorf("read spawn line: %w", err)
	}
	line, err := ParseSpawnLine(raw)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return err
	}

	fail := func(err error) error {
		fmt.Fprintf(stderr, "%s: %v\n", line.Name, err)
		fmt.Fprintln(stderr, line.Terminator)
		return err
	}

	if line.RootDir != "" {
		if err := os.Chdir(line.RootDir); err != nil {
			return fail(fmt.Errorf("chdir: %w", err))
		}
	}
	in, err := flow.DecodeIO(line.Payload)
	if err != nil {
		return fail(err)
	}

	out, err := run(ctx, line.Name, in)
	if err != nil {
		return fail(err)
	}
	payload, err := flow.EncodeIO(out)
	if err != nil {
		return fail(err)
	}
	if _, err := fmt.Fprintf(stdout, "%s\n%s\n", payload, line.Terminator); err != nil {
		return fail(fmt.Errorf("write result: %w", err))
	}
	return nil
}
