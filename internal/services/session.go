package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/ternarybob/arbor"

	"splynx-collector/internal/common"
	"splynx-collector/internal/interfaces"
)

var defaultLoginSelectors = map[string]string{
	"username": "#login",
	"password": "#password",
}

// session owns the single browser page. One goroutine consumes the command
// channel and runs jobs strictly one at a time; the page is never driven
// concurrently. Commands submitted while a job runs are rejected, not
// queued.
type session struct {
	cfg     *common.PortalConfig
	output  *common.OutputConfig
	storage interfaces.Storage
	sink    interfaces.ProgressSink
	log     arbor.ILogger

	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	loc     *Locators

	commands chan interfaces.Command
	done     chan struct{}

	mu    sync.Mutex
	ready bool
	busy  string // name of the running job, "" when idle
}

// NewSession builds an unopened session.
func NewSession(cfg *common.PortalConfig, output *common.OutputConfig, storage interfaces.Storage, sink interfaces.ProgressSink) interfaces.Session {
	return &session{
		cfg:      cfg,
		output:   output,
		storage:  storage,
		sink:     sink,
		log:      common.GetLogger(),
		commands: make(chan interfaces.Command),
		done:     make(chan struct{}),
	}
}

func (s *session) progress(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if s.sink != nil {
		s.sink.Progress(msg)
	}
	s.log.Info().Msg(msg)
}

// Open launches the browser, navigates to the login page and fills the
// credentials. The operator completes 2FA in the visible browser window;
// the command loop starts immediately and jobs arriving before login
// completes simply fail and can be retried.
func (s *session) Open(username, password string) error {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return common.NewConfigurationError("session_open", "session is already open")
	}
	s.mu.Unlock()

	pw, err := playwright.Run()
	if err != nil {
		return common.NewInternalError("playwright_start", "failed to start browser driver").WithCause(err)
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.cfg.Browser.Headless),
	}
	if s.cfg.Browser.Channel != "" {
		opts.Channel = playwright.String(s.cfg.Browser.Channel)
	}
	browser, err := pw.Chromium.Launch(opts)
	if err != nil {
		pw.Stop()
		return common.NewInternalError("browser_launch", "failed to launch browser").WithCause(err)
	}

	page, err := browser.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return common.NewInternalError("page_open", "failed to open page").WithCause(err)
	}

	if _, err := page.Goto(s.cfg.LoginURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		browser.Close()
		pw.Stop()
		return common.NewTransientError("login_goto", "failed to open the login page").WithCause(err)
	}

	s.pw = pw
	s.browser = browser
	s.page = page
	s.loc = NewLocators(page)

	userSel := s.selector("username")
	passSel := s.selector("password")
	if err := s.loc.FillAny(common.SplitCandidates(userSel), username, 15000); err != nil {
		s.progress("No pude llenar el usuario automáticamente; complétalo en el navegador.")
	}
	if err := s.loc.FillAny(common.SplitCandidates(passSel), password, 15000); err != nil {
		s.progress("No pude llenar la contraseña automáticamente; complétala en el navegador.")
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()

	s.progress("Sesión abierta. Completa el 2FA en el navegador; los comandos quedan disponibles.")

	go s.loop()
	return nil
}

func (s *session) selector(name string) string {
	if sel, ok := s.cfg.Selectors[name]; ok && sel != "" {
		return sel
	}
	return defaultLoginSelectors[name]
}

func (s *session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && s.busy == ""
}

// Submit hands a command to the loop. Busy and not-ready states reject with
// a progress message; the caller may retry later.
func (s *session) Submit(cmd interfaces.Command) error {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		s.progress("Comando %s rechazado: la sesión no está abierta todavía.", cmd.Name())
		return common.NewError(common.ErrorTypeRejected, "not_ready", "session is not ready")
	}
	if s.busy != "" {
		busy := s.busy
		s.mu.Unlock()
		s.progress("Comando %s rechazado: %s sigue en progreso.", cmd.Name(), busy)
		return common.NewError(common.ErrorTypeRejected, "busy", fmt.Sprintf("job %s is already running", busy))
	}
	s.busy = cmd.Name()
	s.mu.Unlock()

	s.commands <- cmd
	return nil
}

func (s *session) loop() {
	for cmd := range s.commands {
		if _, ok := cmd.(interfaces.ShutdownCommand); ok {
			s.clearBusy()
			break
		}
		s.runJob(cmd)
		s.clearBusy()
	}

	s.teardown()
	close(s.done)
}

func (s *session) clearBusy() {
	s.mu.Lock()
	s.busy = ""
	s.mu.Unlock()
}

func (s *session) runJob(cmd interfaces.Command) {
	record := &interfaces.RunRecord{
		Command: cmd.Name(),
		Started: time.Now(),
	}

	var err error
	switch c := cmd.(type) {
	case interfaces.ExtractCommand:
		err = s.runExtract(c, record)
	case interfaces.EnrichCommand:
		err = s.runEnrich(c, record)
	case interfaces.CollectDatesCommand:
		err = s.runCollectDates(c, record)
	default:
		err = common.NewInternalError("unknown_command", fmt.Sprintf("unknown command %q", cmd.Name()))
	}

	record.Finished = time.Now()
	record.OK = err == nil
	if err != nil {
		record.Error = err.Error()
		s.progress("Error en %s: %v", cmd.Name(), err)
	}

	if s.storage != nil {
		if storeErr := s.storage.RecordRun(record); storeErr != nil {
			s.log.Warn().Err(storeErr).Msg("Could not record run")
		}
	}
}

func (s *session) runExtract(cmd interfaces.ExtractCommand, record *interfaces.RunRecord) error {
	wb, err := OpenOrCreateWorkbook(s.output.WorkbookPath)
	if err != nil {
		return err
	}
	defer wb.Close()

	extractor := NewTableExtractor(s.loc, s.cfg, s.sink)

	var rows int
	switch cmd.Table {
	case "tickets":
		rows, err = extractor.ExtractTickets(wb, cmd.Mode)
	case "customers":
		rows, err = extractor.ExtractCustomers(wb)
	default:
		return common.NewConfigurationError("unknown_table", fmt.Sprintf("unknown table %q", cmd.Table))
	}
	if err != nil {
		return err
	}
	record.Processed = rows
	return wb.Save()
}

func (s *session) runEnrich(cmd interfaces.EnrichCommand, record *interfaces.RunRecord) error {
	path := cmd.WorkbookPath
	if path == "" {
		path = s.output.WorkbookPath
	}
	result, err := NewEnrichService(s.loc, s.sink).Run(path)
	if result != nil {
		record.Processed = result.Found + result.NotFound
		record.Updated = result.Found
		record.Failed = result.NotFound
	}
	return err
}

func (s *session) runCollectDates(cmd interfaces.CollectDatesCommand, record *interfaces.RunRecord) error {
	path := cmd.WorkbookPath
	if path == "" {
		path = s.output.WorkbookPath
	}
	result, err := NewDateCollector(s.loc, s.sink).Run(path)
	if result != nil {
		record.Processed = result.Updated + result.Skipped + result.Failed
		record.Updated = result.Updated
		record.Skipped = result.Skipped
		record.Failed = result.Failed
	}
	return err
}

// Close asks the loop to exit and waits for the browser teardown.
func (s *session) Close() error {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return nil
	}
	s.ready = false
	s.mu.Unlock()

	select {
	case s.commands <- interfaces.ShutdownCommand{}:
	default:
		// Loop is mid-job; closing the channel after it finishes would race,
		// so drain via a goroutine.
		go func() { s.commands <- interfaces.ShutdownCommand{} }()
	}

	select {
	case <-s.done:
	case <-time.After(60 * time.Second):
		s.log.Warn().Msg("Session loop did not stop in time")
	}
	return nil
}

func (s *session) teardown() {
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Browser close failed")
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("Playwright stop failed")
		}
	}
	s.progress("Sesión cerrada.")
}
