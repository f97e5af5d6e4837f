package jsp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/joynr-go/clustercontroller/cmn/cos"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// signature identifies the on-disk snapshot format. It never changes
// independently of Metaver.
const signature = "JACS"

// Options controls how a single snapshot is encoded and verified.
type Options struct {
	Checksum bool // seal the body with a blake2b checksum
	Indent   bool // pretty-print the JSON body (used for the configuration file)
}

// Opts is implemented by any type that knows its own persistence options,
// mirroring the way callers elsewhere pair a value with its Options.
type Opts interface {
	JspOpts() Options
}

// Encode writes the JSP header followed by the JSON-encoded body of v.
func Encode(w io.Writer, v interface{}, opts Options) error {
	body, err := marshal(v, opts)
	if err != nil {
		return err
	}
	var cksum *cos.Cksum
	if opts.Checksum {
		cksum = cos.ChecksumBytes(body)
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s%d\n", signature, Metaver)
	if cksum != nil {
		fmt.Fprintf(bw, "cksum:%s:%s\n", cksum.Type(), cksum.Value())
	} else {
		fmt.Fprintln(bw, "cksum:none")
	}
	fmt.Fprintln(bw)
	if _, err := bw.Write(body); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads the JSP header and verifies the checksum (when present)
// before unmarshaling the body into v.
func Decode(r io.Reader, v interface{}, opts Options, path string) (*cos.Cksum, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	lines := bytes.SplitN(raw, []byte("\n\n"), 2)
	if len(lines) != 2 {
		return nil, fmt.Errorf("%s: malformed snapshot header", path)
	}
	header, body := string(lines[0]), lines[1]
	headerLines := strings.Split(header, "\n")
	if len(headerLines) < 2 || !strings.HasPrefix(headerLines[0], signature) {
		return nil, fmt.Errorf("%s: unrecognized signature", path)
	}
	var recorded *cos.Cksum
	cksumLine := headerLines[1]
	if cksumLine != "cksum:none" {
		parts := strings.SplitN(cksumLine, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%s: malformed checksum line", path)
		}
		recorded = cos.NewCksum(parts[1], parts[2])
		actual := cos.ChecksumBytes(body)
		if !recorded.Equal(actual) {
			return recorded, cos.NewErrBadCksum(recorded, actual)
		}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return recorded, fmt.Errorf("%s: %w", path, err)
	}
	return recorded, nil
}

func marshal(v interface{}, opts Options) ([]byte, error) {
	if opts.Indent {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}
