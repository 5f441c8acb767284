package pageobject

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/internal/device"
	"github.com/nhantruonghcmut/uitf/internal/expect"
)

// MobileLocator addresses a node in the uiautomator hierarchy by a single
// attribute. Use the ByID/ByText/ByDesc constructors.
type MobileLocator struct {
	attr  string
	value string
}

// ByID locates by resource-id.
func ByID(id string) MobileLocator { return MobileLocator{attr: "resource-id", value: id} }

// ByText locates by exact visible text.
func ByText(text string) MobileLocator { return MobileLocator{attr: "text", value: text} }

// ByDesc locates by content description.
func ByDesc(desc string) MobileLocator { return MobileLocator{attr: "content-desc", value: desc} }

func (l MobileLocator) String() string {
	return fmt.Sprintf("%s=%q", l.attr, l.value)
}

// MobilePage is the embeddable base for Android page objects. Elements are
// resolved against a fresh uiautomator dump on every interaction.
type MobilePage struct {
	driver *device.Driver
	name   string
	poll   time.Duration
	logger *zap.Logger
}

// NewMobilePage binds a mobile page object to a driver.
func NewMobilePage(driver *device.Driver, name string, poll time.Duration, logger *zap.Logger) *MobilePage {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &MobilePage{
		driver: driver,
		name:   name,
		poll:   poll,
		logger: logger.Named("mobilepage").With(zap.String("page", name)),
	}
}

// Driver exposes the underlying device driver.
func (p *MobilePage) Driver() *device.Driver { return p.driver }

// Name returns the page object's name.
func (p *MobilePage) Name() string { return p.name }

// El declares an element of this page.
func (p *MobilePage) El(loc MobileLocator) *MobileElement {
	return &MobileElement{page: p, loc: loc}
}

var boundsRe = regexp.MustCompile(`\[(\d+),(\d+)\]\[(\d+),(\d+)\]`)

// nodeInfo is the resolved state of a hierarchy node.
type nodeInfo struct {
	text    string
	centerX int
	centerY int
}

// find dumps the hierarchy and resolves the locator to a node. A missing
// node is an error; polling callers wrap this in expect.Eventually.
func (p *MobilePage) find(ctx context.Context, loc MobileLocator) (*nodeInfo, error) {
	xml, err := p.driver.UIHierarchy(ctx)
	if err != nil {
		return nil, err
	}
	return locateNode(xml, loc)
}

// locateNode resolves a locator against a uiautomator dump.
func locateNode(xml string, loc MobileLocator) (*nodeInfo, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, fmt.Errorf("failed to parse UI hierarchy: %w", err)
	}

	node := findNode(doc.Root(), loc)
	if node == nil {
		return nil, fmt.Errorf("no node matching %s", loc)
	}

	info := &nodeInfo{text: node.SelectAttrValue("text", "")}
	m := boundsRe.FindStringSubmatch(node.SelectAttrValue("bounds", ""))
	if m == nil {
		return nil, fmt.Errorf("node %s has no usable bounds", loc)
	}
	x1, _ := strconv.Atoi(m[1])
	y1, _ := strconv.Atoi(m[2])
	x2, _ := strconv.Atoi(m[3])
	y2, _ := strconv.Atoi(m[4])
	info.centerX = (x1 + x2) / 2
	info.centerY = (y1 + y2) / 2
	return info, nil
}

// findNode walks the hierarchy in document order and returns the first node
// whose attribute matches the locator. Values are compared raw, so quotes in
// locator text (a text locator on a "Don't allow" button) need no escaping.
func findNode(el *etree.Element, loc MobileLocator) *etree.Element {
	if el == nil {
		return nil
	}
	if el.Tag == "node" {
		if attr := el.SelectAttr(loc.attr); attr != nil && attr.Value == loc.value {
			return el
		}
	}
	for _, child := range el.ChildElements() {
		if found := findNode(child, loc); found != nil {
			return found
		}
	}
	return nil
}

// MobileElement is a lazy locator into the Android UI hierarchy.
type MobileElement struct {
	page *MobilePage
	loc  MobileLocator
}

// Tap resolves the element and taps its center.
func (e *MobileElement) Tap(ctx context.Context) error {
	info, err := e.page.find(ctx, e.loc)
	if err != nil {
		return fmt.Errorf("tap %s: %w", e.loc, err)
	}
	return e.page.driver.Tap(ctx, info.centerX, info.centerY)
}

// TypeText taps the element to focus it, then types.
func (e *MobileElement) TypeText(ctx context.Context, text string) error {
	if err := e.Tap(ctx); err != nil {
		return err
	}
	return e.page.driver.InputText(ctx, text)
}

// Text returns the element's text attribute.
func (e *MobileElement) Text(ctx context.Context) (string, error) {
	info, err := e.page.find(ctx, e.loc)
	if err != nil {
		return "", err
	}
	return info.text, nil
}

// Visible reports whether the element currently exists in the hierarchy.
func (e *MobileElement) Visible(ctx context.Context) (bool, error) {
	_, err := e.page.find(ctx, e.loc)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// WaitVisible polls the hierarchy until the element appears.
func (e *MobileElement) WaitVisible(ctx context.Context, timeout time.Duration) error {
	cond := func(ctx context.Context) error {
		_, err := e.page.find(ctx, e.loc)
		return err
	}
	if err := expect.Eventually(ctx, timeout, e.page.poll, cond); err != nil {
		return fmt.Errorf("element %s did not appear: %w", e.loc, err)
	}
	return nil
}

// ShouldHaveText polls until the element's text equals want.
func (e *MobileElement) ShouldHaveText(ctx context.Context, want string, timeout time.Duration) error {
	cond := expect.TextEquals(e.Text, want)
	if err := expect.Eventually(ctx, timeout, e.page.poll, cond); err != nil {
		return fmt.Errorf("element %s: %w", e.loc, err)
	}
	return nil
}
