package ldac

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestLDAC(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LDAC Suite")
}
