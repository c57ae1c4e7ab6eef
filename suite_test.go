package eventhubscope_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestEventHubScope(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "eventhubscope suite")
}
