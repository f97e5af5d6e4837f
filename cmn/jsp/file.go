// Package jsp (JSON persistence) stores and loads the access-store
// snapshot and the configuration file as atomically-written JSON files,
// checksummed when Options.Checksum is set.
package jsp

import (
	"errors"
	"flag"
	"io"
	"os"
	"reflect"

	"github.com/golang/glog"

	"github.com/joynr-go/clustercontroller/cmn"
	"github.com/joynr-go/clustercontroller/cmn/cos"
	"github.com/joynr-go/clustercontroller/cmn/debug"
)

const Metaver = 1 // current JSP version

//////////////////
// main methods //
//////////////////

func SaveMeta(filepath string, meta Opts, wto io.WriterTo) error {
	return Save(filepath, meta, meta.JspOpts(), wto)
}

func Save(filepath string, v interface{}, opts Options, wto io.WriterTo) (err error) {
	var (
		file *os.File
		tmp  = filepath + ".tmp." + cmn.GenTie()
	)
	if file, err = cos.CreateFile(tmp); err != nil {
		return
	}
	defer func() {
		if err == nil {
			return
		}
		if nestedErr := cos.RemoveFile(tmp); nestedErr != nil {
			glog.Errorf("Nested (%v): failed to remove %s, err: %v", err, tmp, nestedErr)
		}
	}()
	if wto != nil && !reflect.ValueOf(wto).IsNil() {
		_, err = wto.WriteTo(file)
	} else {
		debug.Assert(v != nil)
		err = Encode(file, v, opts)
	}
	if err != nil {
		glog.Errorf("Failed to encode %s: %v", filepath, err)
		cos.Close(file)
		return
	}
	if err = cos.FlushClose(file); err != nil {
		glog.Errorf("Failed to flush and close %s: %v", tmp, err)
		return
	}
	err = os.Rename(tmp, filepath)
	return
}

func LoadMeta(filepath string, meta Opts) (*cos.Cksum, error) {
	return Load(filepath, meta, meta.JspOpts())
}

func Load(filepath string, v interface{}, opts Options) (checksum *cos.Cksum, err error) {
	var file *os.File
	file, err = os.Open(filepath)
	if err != nil {
		return
	}
	checksum, err = Decode(file, v, opts, filepath)
	if err != nil && errors.Is(err, &cos.ErrBadCksum{}) {
		if errRm := os.Remove(filepath); errRm == nil {
			if flag.Parsed() {
				glog.Errorf("bad checksum: removing %s", filepath)
			}
		} else if flag.Parsed() {
			glog.Errorf("bad checksum: failed to remove %s: %v", filepath, errRm)
		}
		return
	}
	return
}
