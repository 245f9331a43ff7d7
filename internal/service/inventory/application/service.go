// internal/service/inventory/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hunanlzp/shopx-sub001/internal/lock"
	"github.com/hunanlzp/shopx-sub001/internal/pkg/logger"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain/port"
)

// Config 汇总预占服务的可调参数。
// 锁的等待/租约时长和回收批量都来自配置，不写死在代码里。
type Config struct {
	LockWaitTime     time.Duration
	LockLeaseTime    time.Duration
	SweepBatchSize   int
	SweepConcurrency int
	DefaultTTL       time.Duration
}

// ReservationService 负责库存预占的业务流程编排：
// 商品锁串行化并发请求，账本只做读改写，状态机落在预占单实体上。
type ReservationService struct {
	repo    domain.ReservationRepository
	ledger  port.StockLedger
	locker  lock.Locker
	policy  port.ReservePolicy // 可为空，为空则跳过规则校验
	metrics *Metrics
	tracer  trace.Tracer
	cfg     Config
}

func NewReservationService(repo domain.ReservationRepository, ledger port.StockLedger, locker lock.Locker, policy port.ReservePolicy, metrics *Metrics, tracer trace.Tracer, cfg Config) *ReservationService {
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 8
	}
	return &ReservationService{
		repo: repo, ledger: ledger, locker: locker,
		policy: policy, metrics: metrics, tracer: tracer, cfg: cfg,
	}
}

// lockKey 每个商品一把锁；花括号 hash tag 保证集群模式下落在同一槽
func lockKey(productID string) string {
	return fmt.Sprintf("lock:stock:{%s}", productID)
}

// Reserve 预占 quantity 件商品：
// 抢商品锁 -> 账本 TryReserve -> 落 PENDING 预占单 -> 放锁。
// 锁超时返回 ErrLockUnavailable，库存不足返回 ErrInsufficientStock。
func (s *ReservationService) Reserve(ctx context.Context, userID, productID string, quantity int64, ttl time.Duration) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("product.id", productID),
		attribute.String("user.id", userID),
		attribute.Int64("reserve.quantity", quantity),
	)

	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	// 1. 规则校验，不通过直接拒绝，不触碰锁
	if s.policy != nil {
		ok, err := s.policy.Allow(ctx, port.ReserveFact{UserID: userID, ProductID: productID, Quantity: quantity})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("reserve policy evaluation: %w", err)
		}
		if !ok {
			s.metrics.countReservation("policy_rejected")
			span.AddEvent("Reserve request rejected by policy")
			return nil, fmt.Errorf("%w: user %s product %s qty %d", domain.ErrPolicyRejected, userID, productID, quantity)
		}
	}

	// 2. 抢商品锁
	lockStart := time.Now()
	handle, err := s.locker.Acquire(ctx, lockKey(productID), s.cfg.LockWaitTime, s.cfg.LockLeaseTime)
	s.metrics.observeLockWait(time.Since(lockStart))
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			s.metrics.countReservation("lock_unavailable")
			span.AddEvent("Lock wait timed out")
			return nil, fmt.Errorf("%w: product %s", domain.ErrLockUnavailable, productID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock backend failure")
		return nil, fmt.Errorf("%w: acquire lock for %s: %v", domain.ErrBackendUnavailable, productID, err)
	}
	defer func() {
		if err := s.locker.Release(ctx, handle); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("product_id", productID).Msg("failed to release product lock")
		}
	}()

	// 3. 账本扣减，只在锁内进行
	ok, err := s.ledger.TryReserve(ctx, productID, quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger failure")
		return nil, fmt.Errorf("%w: try reserve %s: %v", domain.ErrBackendUnavailable, productID, err)
	}
	if !ok {
		s.metrics.countReservation("insufficient_stock")
		span.AddEvent("Insufficient stock")
		return nil, fmt.Errorf("%w: product %s qty %d", domain.ErrInsufficientStock, productID, quantity)
	}

	// 4. 落 PENDING 预占单
	reservation, err := domain.NewReservation(userID, productID, quantity, ttl)
	if err != nil {
		// 扣减已经发生，必须在同一把锁内把数量还回去
		s.rollbackReserve(ctx, productID, quantity)
		return nil, err
	}
	if err := s.repo.Save(ctx, reservation); err != nil {
		s.rollbackReserve(ctx, productID, quantity)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist reservation")
		return nil, fmt.Errorf("%w: save reservation: %v", domain.ErrBackendUnavailable, err)
	}

	s.metrics.countReservation("success")
	span.AddEvent("Reservation created", trace.WithAttributes(attribute.String("reservation.id", reservation.ID)))
	logger.Ctx(ctx).Info().
		Str("reservation_id", reservation.ID).
		Str("product_id", productID).
		Int64("quantity", quantity).
		Time("expire_at", reservation.ExpireAt).
		Msg("reservation created")
	return reservation, nil
}

// rollbackReserve 把已扣减但没落单成功的数量还给账本
func (s *ReservationService) rollbackReserve(ctx context.Context, productID string, quantity int64) {
	if err := s.ledger.Release(ctx, productID, quantity); err != nil {
		// 还不回去意味着账本和预占单不一致，需要人工介入
		s.metrics.countRestoreFailed()
		logger.Ctx(ctx).Error().Err(err).
			Str("product_id", productID).
			Int64("quantity", quantity).
			Msg("CRITICAL: failed to roll back ledger after reservation persist failure")
	}
}

// Confirm 履约确认：PENDING -> CONFIRMED。
// 库存在预占时已经扣减，这里不触碰账本，但状态判断必须在商品锁内做，
// 否则并发的取消/回收落完终态后会被这里的 Save 覆盖回 CONFIRMED。
func (s *ReservationService) Confirm(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	// 先查一次拿到商品 ID，真正的状态判断在锁内做
	probe, err := s.repo.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	handle, err := s.locker.Acquire(ctx, lockKey(probe.ProductID), s.cfg.LockWaitTime, s.cfg.LockLeaseTime)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: product %s", domain.ErrLockUnavailable, probe.ProductID)
		}
		return nil, fmt.Errorf("%w: acquire lock for %s: %v", domain.ErrBackendUnavailable, probe.ProductID, err)
	}
	defer func() {
		if err := s.locker.Release(ctx, handle); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("product_id", probe.ProductID).Msg("failed to release product lock")
		}
	}()

	// 锁内重读，挡住和取消或回收任务之间的竞态
	reservation, err := s.repo.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if err := reservation.Confirm(); err != nil {
		span.AddEvent("Invalid state for confirm")
		return nil, err
	}
	if err := s.repo.Save(ctx, reservation); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: save confirmed reservation: %v", domain.ErrBackendUnavailable, err)
	}
	logger.Ctx(ctx).Info().Str("reservation_id", reservationID).Msg("reservation confirmed")
	return reservation, nil
}

// Cancel 主动取消：PENDING -> CANCELLED，并在同一把商品锁下归还库存。
func (s *ReservationService) Cancel(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	// 先查一次拿到商品 ID，真正的状态判断在锁内做
	probe, err := s.repo.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	handle, err := s.locker.Acquire(ctx, lockKey(probe.ProductID), s.cfg.LockWaitTime, s.cfg.LockLeaseTime)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: product %s", domain.ErrLockUnavailable, probe.ProductID)
		}
		return nil, fmt.Errorf("%w: acquire lock for %s: %v", domain.ErrBackendUnavailable, probe.ProductID, err)
	}
	defer func() {
		if err := s.locker.Release(ctx, handle); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("product_id", probe.ProductID).Msg("failed to release product lock")
		}
	}()

	// 锁内重读，挡住和回收任务或重复取消之间的竞态
	reservation, err := s.repo.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if err := reservation.Cancel(); err != nil {
		span.AddEvent("Invalid state for cancel")
		return nil, err
	}
	if err := s.repo.Save(ctx, reservation); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: save cancelled reservation: %v", domain.ErrBackendUnavailable, err)
	}
	// 先落终态再还库存：即便归还失败，预占单也不会被再次取消或回收，
	// 不会出现重复归还
	if err := s.ledger.Release(ctx, reservation.ProductID, reservation.Quantity); err != nil {
		s.metrics.countRestoreFailed()
		logger.Ctx(ctx).Error().Err(err).
			Str("reservation_id", reservationID).
			Msg("CRITICAL: reservation cancelled but stock not returned")
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock return failed")
		return nil, fmt.Errorf("%w: release stock for %s: %v", domain.ErrBackendUnavailable, reservation.ProductID, err)
	}

	logger.Ctx(ctx).Info().
		Str("reservation_id", reservationID).
		Str("product_id", reservation.ProductID).
		Int64("quantity", reservation.Quantity).
		Msg("reservation cancelled, stock returned")
	return reservation, nil
}

// SweepExpired 回收在 now 之前到期、仍处于 PENDING 的预占单。
// 每条预占单独立处理：单条失败只记日志和指标，等下一轮重试，
// 不会中断整个回收过程。返回本轮成功回收的条数。
func (s *ReservationService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.SweepExpired")
	defer span.End()

	expired, err := s.repo.FindExpired(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("%w: find expired reservations: %v", domain.ErrBackendUnavailable, err)
	}
	if len(expired) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("sweep.candidates", len(expired)))

	var swept atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SweepConcurrency)
	for _, r := range expired {
		reservation := r
		g.Go(func() error {
			ok, err := s.expireOne(gctx, reservation.ID, now)
			if err != nil {
				s.metrics.countSweepFailed()
				logger.Ctx(gctx).Warn().Err(err).
					Str("reservation_id", reservation.ID).
					Msg("failed to expire reservation, will retry next sweep")
				return nil // 失败隔离，不让 errgroup 取消其它任务
			}
			if ok {
				swept.Add(1)
				s.metrics.countSweepExpired()
			}
			return nil
		})
	}
	_ = g.Wait()

	count := int(swept.Load())
	if count > 0 {
		logger.Ctx(ctx).Info().Int("count", count).Msg("expired reservations swept")
	}
	span.SetAttributes(attribute.Int("sweep.expired", count))
	return count, nil
}

// expireOne 在商品锁内回收单条预占单。
// 返回 (false, nil) 表示该单已被并发确认/取消/回收，跳过即可。
func (s *ReservationService) expireOne(ctx context.Context, reservationID string, now time.Time) (bool, error) {
	probe, err := s.repo.FindByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) {
			return false, nil
		}
		return false, err
	}

	handle, err := s.locker.Acquire(ctx, lockKey(probe.ProductID), s.cfg.LockWaitTime, s.cfg.LockLeaseTime)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := s.locker.Release(ctx, handle); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("product_id", probe.ProductID).Msg("failed to release product lock")
		}
	}()

	reservation, err := s.repo.FindByID(ctx, reservationID)
	if err != nil {
		return false, err
	}
	// 锁内复核：已是终态或尚未到期的单子直接跳过，保证回收幂等
	if !reservation.IsExpired(now) {
		return false, nil
	}
	if err := reservation.Expire(); err != nil {
		return false, nil
	}
	if err := s.repo.Save(ctx, reservation); err != nil {
		return false, err
	}
	if err := s.ledger.Release(ctx, reservation.ProductID, reservation.Quantity); err != nil {
		// 预占单已落 EXPIRED，回收查询不会再捞到它，这笔数量不会自动重试；
		// 告警走 stock_restore_failed_total，修复靠人工对账
		s.metrics.countRestoreFailed()
		logger.Ctx(ctx).Error().Err(err).
			Str("reservation_id", reservationID).
			Msg("CRITICAL: reservation expired but stock not returned")
		return false, err
	}
	return true, nil
}

// ProvisionStock 设置商品可用数量，供补货和管理接口使用
func (s *ReservationService) ProvisionStock(ctx context.Context, productID string, quantity int64) error {
	ctx, span := s.tracer.Start(ctx, "inventory.ProvisionStock")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID), attribute.Int64("quantity", quantity))

	if quantity < 0 {
		return fmt.Errorf("provision quantity must not be negative, got %d", quantity)
	}
	handle, err := s.locker.Acquire(ctx, lockKey(productID), s.cfg.LockWaitTime, s.cfg.LockLeaseTime)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return fmt.Errorf("%w: product %s", domain.ErrLockUnavailable, productID)
		}
		return fmt.Errorf("%w: acquire lock for %s: %v", domain.ErrBackendUnavailable, productID, err)
	}
	defer s.locker.Release(ctx, handle)

	if err := s.ledger.Provision(ctx, productID, quantity); err != nil {
		return fmt.Errorf("%w: provision %s: %v", domain.ErrBackendUnavailable, productID, err)
	}
	logger.Ctx(ctx).Info().Str("product_id", productID).Int64("quantity", quantity).Msg("stock provisioned")
	return nil
}

// GetQuantity 查询商品当前可用数量
func (s *ReservationService) GetQuantity(ctx context.Context, productID string) (int64, error) {
	qty, err := s.ledger.GetQuantity(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("%w: get quantity %s: %v", domain.ErrBackendUnavailable, productID, err)
	}
	return qty, nil
}

// GetReservation 查询预占单详情
func (s *ReservationService) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	return s.repo.FindByID(ctx, reservationID)
}
