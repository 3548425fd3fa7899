package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"botgate/cmd/security/adminkey"
)

// HashAdminKey reads an operator key from the first line of in and writes the
// encoded hash to out, ready for LOGS_ADMIN_KEY_HASH.
func HashAdminKey(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	key := strings.TrimRight(line, "\r\n")

	enc, err := adminkey.Hash(key, adminkey.DefaultParams())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, enc)
	return err
}
