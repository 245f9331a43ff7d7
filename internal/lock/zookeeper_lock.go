// internal/lock/zookeeper_lock.go
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/shopx/locks" // 所有分布式锁的根节点

// ZookeeperLocker 基于临时顺序节点实现 Locker。
// 等待者在队列中监听前一个节点，天然公平排队。
// 租约由 ZooKeeper 会话承担：持有者崩溃后临时节点随会话消失，
// leaseTime 参数在这个实现里仅记录在 Handle 上。
type ZookeeperLocker struct {
	conn *zk.Conn
}

// NewZookeeperLocker 连接 ZooKeeper 并确保锁根节点存在
func NewZookeeperLocker(servers []string, sessionTimeout time.Duration) (*ZookeeperLocker, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	l := &ZookeeperLocker{conn: conn}
	if err := l.ensurePath(lockRoot); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

func (l *ZookeeperLocker) ensurePath(path string) error {
	// 逐级创建，父节点可能已由其他实例建好
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	cur := ""
	for _, p := range parts {
		cur += "/" + p
		_, err := l.conn.Create(cur, []byte(""), 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return fmt.Errorf("failed to create lock path node %s: %w", cur, err)
		}
	}
	return nil
}

// Acquire 在锁路径下创建临时顺序节点并排队等待成为最小节点
func (l *ZookeeperLocker) Acquire(ctx context.Context, key string, waitTime, leaseTime time.Duration) (*Handle, error) {
	lockPath := lockRoot + "/" + key
	if err := l.ensurePath(lockPath); err != nil {
		return nil, err
	}

	// 1. 创建一个临时顺序节点，格式为 <lockPath>/lock-<seq>
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(lockPath+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("failed to create sequential node: %w", err)
	}

	deadline := time.Now().Add(waitTime)
	for {
		// 2. 获取锁路径下的所有子节点并排序
		children, _, err := l.conn.Children(lockPath)
		if err != nil {
			l.abandon(nodePath)
			return nil, fmt.Errorf("failed to get children nodes: %w", err)
		}
		sort.Strings(children)

		// 3. 自己是最小节点则获取锁成功
		myNodeName := strings.TrimPrefix(nodePath, lockPath+"/")
		if myNodeName == children[0] {
			return &Handle{
				Key:         key,
				Token:       nodePath,
				LeaseExpiry: time.Now().Add(leaseTime),
			}, nil
		}

		// 4. 否则监听前一个节点
		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex < 0 {
			l.abandon(nodePath)
			return nil, errors.New("cannot find previous node, something is wrong")
		}
		prevNodePath := lockPath + "/" + children[prevNodeIndex]

		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			if err == zk.ErrNoNode {
				continue
			}
			l.abandon(nodePath)
			return nil, fmt.Errorf("failed to watch previous node: %w", err)
		}
		if !exists {
			// 前一个节点在设置 watch 前刚好被删除，重新竞争
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.abandon(nodePath)
			return nil, ErrNotObtained
		}

		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(remaining):
			l.abandon(nodePath)
			return nil, ErrNotObtained
		case <-ctx.Done():
			l.abandon(nodePath)
			return nil, ctx.Err()
		}
	}
}

// Release 删除自己创建的节点；节点已不存在时是 no-op
func (l *ZookeeperLocker) Release(ctx context.Context, h *Handle) error {
	if h == nil || h.Token == "" {
		return nil
	}
	err := l.conn.Delete(h.Token, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	return nil
}

// abandon 放弃排队：把自己的节点删掉，让后面的等待者不被阻塞
func (l *ZookeeperLocker) abandon(nodePath string) {
	_ = l.conn.Delete(nodePath, -1)
}

// Close 关闭底层会话，会话上的所有临时节点随之释放
func (l *ZookeeperLocker) Close() {
	l.conn.Close()
}
