package output

import (
	"context"
	"fmt"
	"time"
)

func StatusBar(ctx context.Context, refreshRate time.Duration, printF func()) {
	ticker := time.NewTicker(refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			printF()
		case <-ctx.Done():
			return
		}
	}
}

func PrettyProfileStatus(cycles uint64, lastBytes int64, ingestErrors uint64, queueUtil int) string {
	return fmt.Sprintf("\r%-16s %-24s %-20s %-30s",
		fmt.Sprintf("Cycles: %d", cycles),
		fmt.Sprintf("Last profile: %s", HumanBytes(lastBytes)),
		fmt.Sprintf("Ingest errors: %d", ingestErrors),
		fmt.Sprintf("Trace queue: [%s] %3d%%", ProgressBar(queueUtil, 10), queueUtil),
	)
}
