package hostnet

import (
	"fmt"
	"net"
	"unsafe"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/rcornwell/lcsstation/emu/lcs/station"
)

// Link implements station.LinkAdmin against the real host network
// stack via vishvananda/netlink.
type Link struct{}

func (Link) byName(ifName string) (netlink.Link, error) {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("hostnet: lookup interface %s: %w", ifName, err)
	}
	return link, nil
}

// SetUp implements station.LinkAdmin.
func (l Link) SetUp(ifName string, mac net.HardwareAddr) error {
	link, err := l.byName(ifName)
	if err != nil {
		return err
	}
	if len(mac) > 0 {
		if err := netlink.LinkSetHardwareAddr(link, mac); err != nil {
			return fmt.Errorf("hostnet: set hw addr on %s: %w", ifName, err)
		}
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("hostnet: link up %s: %w", ifName, err)
	}
	return nil
}

// SetDown implements station.LinkAdmin.
func (l Link) SetDown(ifName string) error {
	link, err := l.byName(ifName)
	if err != nil {
		return err
	}
	if err := netlink.LinkSetDown(link); err != nil {
		return fmt.Errorf("hostnet: link down %s: %w", ifName, err)
	}
	return nil
}

// SetMTU implements station.LinkAdmin.
func (l Link) SetMTU(ifName string, mtu int) error {
	link, err := l.byName(ifName)
	if err != nil {
		return err
	}
	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		return fmt.Errorf("hostnet: set mtu on %s: %w", ifName, err)
	}
	return nil
}

// AddRoute implements station.LinkAdmin.
func (l Link) AddRoute(ifName, netAddr, netMask string) error {
	link, err := l.byName(ifName)
	if err != nil {
		return err
	}
	dst, err := cidr(netAddr, netMask)
	if err != nil {
		return err
	}
	route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: dst}
	if err := netlink.RouteAdd(route); err != nil {
		return fmt.Errorf("hostnet: add route %s on %s: %w", dst, ifName, err)
	}
	return nil
}

// DelRoute implements station.LinkAdmin.
func (l Link) DelRoute(ifName, netAddr, netMask string) error {
	link, err := l.byName(ifName)
	if err != nil {
		return err
	}
	dst, err := cidr(netAddr, netMask)
	if err != nil {
		return err
	}
	route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: dst}
	if err := netlink.RouteDel(route); err != nil {
		return fmt.Errorf("hostnet: del route %s on %s: %w", dst, ifName, err)
	}
	return nil
}

// AddMulticast implements station.LinkAdmin: joins the interface to an
// Ethernet multicast group via the kernel's device multicast list (the
// SIOCADDMULTI ioctl), the host-level equivalent of port's software
// multicast table for ports that did not need the software fallback.
// netlink has no typed wrapper for this ioctl, so it goes through a raw
// socket directly, same as the "ip maddr add" tooling it mirrors.
func (l Link) AddMulticast(ifName string, mac net.HardwareAddr) error {
	if err := multicastIoctl(ifName, mac, unix.SIOCADDMULTI); err != nil {
		return fmt.Errorf("hostnet: join multicast %s on %s: %w", mac, ifName, err)
	}
	return nil
}

// DelMulticast implements station.LinkAdmin.
func (l Link) DelMulticast(ifName string, mac net.HardwareAddr) error {
	if err := multicastIoctl(ifName, mac, unix.SIOCDELMULTI); err != nil {
		return fmt.Errorf("hostnet: leave multicast %s on %s: %w", mac, ifName, err)
	}
	return nil
}

// ifreqHwaddr mirrors struct ifreq's ifr_name/ifr_hwaddr layout, the
// form SIOCADDMULTI/SIOCDELMULTI expect.
type ifreqHwaddr struct {
	name [unix.IFNAMSIZ]byte
	addr unix.RawSockaddr
}

func multicastIoctl(ifName string, mac net.HardwareAddr, req uint) error {
	if len(mac) != 6 {
		return fmt.Errorf("hostnet: multicast address must be 6 bytes, got %d", len(mac))
	}
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("open control socket: %w", err)
	}
	defer unix.Close(sock)

	var ifr ifreqHwaddr
	copy(ifr.name[:], ifName)
	ifr.addr.Family = unix.ARPHRD_ETHER
	for i, b := range mac {
		ifr.addr.Data[i] = int8(b)
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(sock), uintptr(req), uintptr(unsafe.Pointer(&ifr)))
	if errno != 0 {
		return errno
	}
	return nil
}

// HardwareAddr implements station.LinkAdmin.
func (l Link) HardwareAddr(ifName string) (net.HardwareAddr, error) {
	link, err := l.byName(ifName)
	if err != nil {
		return nil, err
	}
	return link.Attrs().HardwareAddr, nil
}

var _ station.LinkAdmin = Link{}

func cidr(netAddr, netMask string) (*net.IPNet, error) {
	ip := net.ParseIP(netAddr)
	if ip == nil {
		return nil, fmt.Errorf("hostnet: invalid address %q", netAddr)
	}
	mask := net.ParseIP(netMask)
	if mask == nil {
		return nil, fmt.Errorf("hostnet: invalid mask %q", netMask)
	}
	mask4 := mask.To4()
	if mask4 == nil {
		return nil, fmt.Errorf("hostnet: mask %q is not IPv4", netMask)
	}
	return &net.IPNet{IP: ip, Mask: net.IPMask(mask4)}, nil
}
