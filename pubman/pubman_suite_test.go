package pubman

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestPubman(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Publication Manager Suite")
}
