//go:build tools

package relaychat

import (
	_ "go.uber.org/mock/mockgen"
)
