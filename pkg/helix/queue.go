package helix

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// QueueSelector picks the queue a run is submitted to.
type QueueSelector struct {
	OperatingSystemGroup string
	Architecture         string
	Purpose              string
	// DefaultQueueID is used when no listed queue qualifies.
	DefaultQueueID string
}

func NewQueueSelector() QueueSelector {
	return QueueSelector{
		OperatingSystemGroup: "windows",
		Architecture:         "AMD64",
		Purpose:              "Test",
		DefaultQueueID:       "Windows.10.Amd64.Open",
	}
}

// overloadFactor bounds the backlog of a usable queue relative to its scale.
const overloadFactor = 3

// FindQueue returns the qualifying queue with the largest scale, falling
// back to the default queue.
func FindQueue(ctx context.Context, client Client, selector QueueSelector) (*QueueInfo, error) {
	infos, err := client.QueueInfoList(ctx)
	if err != nil {
		return nil, err
	}
	var best *QueueInfo
	for i := range infos {
		info := &infos[i]
		if !selector.qualifies(info) {
			continue
		}
		if best == nil || *info.ScaleMax > *best.ScaleMax {
			best = info
		}
	}
	if best != nil {
		logrus.WithField("queue", best.QueueID).Debugf("Selected queue with scale %d and depth %d.", *best.ScaleMax, best.Depth())
		return best, nil
	}

	logrus.WithField("queue", selector.DefaultQueueID).Debug("No queue qualifies, using the default queue.")
	info, err := client.QueueInfo(ctx, selector.DefaultQueueID)
	if err != nil {
		return nil, fmt.Errorf("could not get default queue: %w", err)
	}
	return info, nil
}

func (s QueueSelector) qualifies(info *QueueInfo) bool {
	return strings.EqualFold(info.OperatingSystemGroup, s.OperatingSystemGroup) &&
		info.Architecture == s.Architecture &&
		info.Purpose == s.Purpose &&
		info.QueueDepth != nil &&
		info.ScaleMax != nil &&
		*info.QueueDepth < *info.ScaleMax*overloadFactor &&
		info.IsInternalOnly != nil && !*info.IsInternalOnly
}
