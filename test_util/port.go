package test_util

import (
	"code.cloudfoundry.org/localip"
	. "github.com/onsi/gomega"
)

func NextAvailPort() uint16 {
	port, err := localip.LocalPort()
	Expect(err).ToNot(HaveOccurred())

	return port
}
